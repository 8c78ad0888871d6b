package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycvault/internal/kyc/models"
	dErrors "kycvault/pkg/domain-errors"
)

func TestValidateGovernmentID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"canonical", "ABCDE1234F", "ABCDE1234F", true},
		{"lower case normalized", "abcde1234f", "ABCDE1234F", true},
		{"surrounding space", "  GOVID1234X ", "GOVID1234X", true},
		{"too short", "ABCD1234F", "", false},
		{"digit in letter block", "ABC1E1234F", "", false},
		{"trailing digit", "ABCDE12345", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateGovernmentID(tt.input)
			if !tt.ok {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidFormat))
				assert.True(t, dErrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateAddress(t *testing.T) {
	full := models.Address{Street: "1 Main St", City: "Pune", State: "MH", PostalCode: "411001"}
	require.NoError(t, ValidateAddress(full))

	// Country is optional.
	partial := full
	partial.PostalCode = " "
	err := ValidateAddress(partial)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIncompleteAddress))
	assert.Contains(t, dErrors.Message(err), "postalCode")
}

func TestValidateDocumentSet(t *testing.T) {
	pdf := models.DocumentUpload{FileName: "passport.pdf", MediaType: "application/pdf", Content: []byte("%PDF")}
	png := models.DocumentUpload{FileName: "selfie.png", MediaType: "image/png", Content: []byte{0x89}}

	t.Run("accepts pdf and images", func(t *testing.T) {
		require.NoError(t, ValidateDocumentSet([]models.DocumentUpload{pdf, png}, 0))
	})

	t.Run("requires at least one file", func(t *testing.T) {
		err := ValidateDocumentSet(nil, 0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeDocumentRejected))
	})

	t.Run("aggregates one failure per offending file", func(t *testing.T) {
		exe := models.DocumentUpload{FileName: "tool.exe", MediaType: "application/octet-stream", Content: []byte{1}}
		big := models.DocumentUpload{FileName: "scan.jpg", MediaType: "image/jpeg", Content: []byte(strings.Repeat("x", 11))}

		err := ValidateDocumentSet([]models.DocumentUpload{pdf, exe, big}, 10)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeDocumentRejected))

		var multi *dErrors.Multi
		require.True(t, errors.As(err, &multi))
		assert.Len(t, multi.Errors, 2)
		assert.Contains(t, err.Error(), "tool.exe")
		assert.Contains(t, err.Error(), "scan.jpg")
	})

	t.Run("default ceiling is five mebibytes", func(t *testing.T) {
		over := models.DocumentUpload{FileName: "huge.pdf", MediaType: "application/pdf", Content: make([]byte, DefaultMaxDocumentBytes+1)}
		err := ValidateDocumentSet([]models.DocumentUpload{over}, 0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeDocumentRejected))
	})
}

func TestValidatePersonalFields(t *testing.T) {
	valid := models.PersonalFields{
		Name:         " Asha Rao ",
		Email:        " asha@example.com",
		GovernmentID: "abcde1234f",
		Address:      models.Address{Street: "1 Main St", City: "Pune", State: "MH", PostalCode: "411001"},
	}
	got, err := ValidatePersonalFields(valid)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", got.Name)
	assert.Equal(t, "asha@example.com", got.Email)
	assert.Equal(t, "ABCDE1234F", got.GovernmentID)

	tests := []struct {
		name    string
		mutate  func(f *models.PersonalFields)
		code    dErrors.Code
		message string
	}{
		{"blank name", func(f *models.PersonalFields) { f.Name = "   " }, dErrors.CodeValidation, "name is required"},
		{"malformed email", func(f *models.PersonalFields) { f.Email = "not-an-email" }, dErrors.CodeValidation, "email is invalid"},
		{"missing email", func(f *models.PersonalFields) { f.Email = "" }, dErrors.CodeValidation, "email is required"},
		{"bad government id", func(f *models.PersonalFields) { f.GovernmentID = "1234" }, dErrors.CodeInvalidFormat, "government id"},
		{"address gaps listed together", func(f *models.PersonalFields) {
			f.Address.City = ""
			f.Address.PostalCode = " "
		}, dErrors.CodeIncompleteAddress, "city, postalCode"},
		{"field errors before format", func(f *models.PersonalFields) {
			f.Email = "nope"
			f.GovernmentID = "1234"
		}, dErrors.CodeValidation, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mutate(&f)
			_, err := ValidatePersonalFields(f)
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
			assert.Contains(t, dErrors.Message(err), tt.message)
		})
	}
}

func TestValidatePatch(t *testing.T) {
	assert.True(t, dErrors.HasCode(ValidatePatch(&models.FieldPatch{}), dErrors.CodeValidation))

	gov := "zyxwv9876u"
	p := models.FieldPatch{GovernmentID: &gov}
	require.NoError(t, ValidatePatch(&p))
	assert.Equal(t, "ZYXWV9876U", *p.GovernmentID)

	bad := "123"
	assert.True(t, dErrors.HasCode(ValidatePatch(&models.FieldPatch{GovernmentID: &bad}), dErrors.CodeInvalidFormat))

	blank := " "
	assert.True(t, dErrors.HasCode(ValidatePatch(&models.FieldPatch{Name: &blank}), dErrors.CodeValidation))

	email := "someone@"
	assert.True(t, dErrors.HasCode(ValidatePatch(&models.FieldPatch{Email: &email}), dErrors.CodeValidation))

	partial := models.Address{Street: "1 Main St", City: "Pune"}
	err := ValidatePatch(&models.FieldPatch{Address: &partial})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIncompleteAddress))
	assert.Contains(t, dErrors.Message(err), "state, postalCode")
}

func TestStruct(t *testing.T) {
	type request struct {
		RecordIDs []string `json:"recordIds" validate:"min=1,max=2"`
	}
	require.NoError(t, Struct(request{RecordIDs: []string{"a"}}))

	err := Struct(request{RecordIDs: []string{"a", "b", "c"}})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Contains(t, dErrors.Message(err), "recordIds must have at most 2 entries")
}
