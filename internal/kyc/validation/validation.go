// Package validation holds the pure structural checks run at intake. Field rules are
// validator struct tags on the model types; this package registers the custom tags
// and turns validator failures into coded domain errors. Nothing here performs I/O.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"kycvault/internal/kyc/models"
	dErrors "kycvault/pkg/domain-errors"
)

// DefaultMaxDocumentBytes is the per-file ceiling when none is configured.
const DefaultMaxDocumentBytes int64 = 5 << 20

var governmentIDPattern = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			return name
		}
		return lowerFirst(f.Name)
	})
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("govid", func(fl validator.FieldLevel) bool {
		return governmentIDPattern.MatchString(normalizeGovernmentID(fl.Field().String()))
	}); err != nil {
		panic(err)
	}
	return v
}

func normalizeGovernmentID(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// Struct validates a request body against its validate tags. Failures are
// validation_error unless the tags say otherwise.
func Struct(v any) error {
	return translate(validate.Struct(v))
}

// translate maps validator failures to the first applicable code: plain field rules
// before government id format before address completeness.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "validation could not run")
	}
	var (
		badGovID bool
		missing  []string
	)
	for _, fe := range fieldErrs {
		switch {
		case fe.Tag() == "govid":
			badGovID = true
		case strings.Contains(fe.StructNamespace(), "Address."):
			missing = append(missing, fe.Field())
		default:
			return dErrors.New(dErrors.CodeValidation, fieldMessage(fe))
		}
	}
	if badGovID {
		return dErrors.New(dErrors.CodeInvalidFormat, "government id must be 5 letters, 4 digits and 1 letter")
	}
	return dErrors.New(dErrors.CodeIncompleteAddress, "address is missing "+strings.Join(missing, ", "))
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return name + " is required"
	case "email":
		return name + " is invalid"
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s entries", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}

func lowerFirst(field string) string {
	if field == "" {
		return field
	}
	r := []rune(field)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// ValidateGovernmentID checks the 5 letters, 4 digits, 1 letter shape and returns
// the upper-cased value.
func ValidateGovernmentID(value string) (string, error) {
	if err := translate(validate.Var(value, "govid")); err != nil {
		return "", err
	}
	return normalizeGovernmentID(value), nil
}

// ValidateAddress requires street, city, state and postal code.
func ValidateAddress(a models.Address) error {
	return translate(validate.Struct(a))
}

// ValidateDocumentSet checks that at least one file is present and that every file
// is a PDF or image within maxBytes. Each offending file contributes one
// document_rejected error; they are returned together.
func ValidateDocumentSet(files []models.DocumentUpload, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	if err := validate.Var(files, "min=1"); err != nil {
		return dErrors.New(dErrors.CodeDocumentRejected, "at least one document is required")
	}
	var errs []error
	for i, f := range files {
		name := f.FileName
		if name == "" {
			name = fmt.Sprintf("document[%d]", i)
		}
		if !acceptedMediaType(f.MediaType) {
			errs = append(errs, dErrors.New(dErrors.CodeDocumentRejected,
				fmt.Sprintf("%s: media type %q is not pdf or image", name, f.MediaType)))
			continue
		}
		if len(f.Content) == 0 {
			errs = append(errs, dErrors.New(dErrors.CodeDocumentRejected, name+": file is empty"))
			continue
		}
		if int64(len(f.Content)) > maxBytes {
			errs = append(errs, dErrors.New(dErrors.CodeDocumentRejected,
				fmt.Sprintf("%s: %d bytes exceeds limit of %d", name, len(f.Content), maxBytes)))
		}
	}
	return dErrors.Join(dErrors.CodeDocumentRejected, errs...)
}

func acceptedMediaType(mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt == "application/pdf" || (strings.HasPrefix(mt, "image/") && len(mt) > len("image/"))
}

// ValidatePersonalFields runs the field-level checks for a submission and returns
// the fields with the government id normalized.
func ValidatePersonalFields(f models.PersonalFields) (models.PersonalFields, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.TrimSpace(f.Email)
	if err := translate(validate.Struct(f)); err != nil {
		return f, err
	}
	f.GovernmentID = normalizeGovernmentID(f.GovernmentID)
	return f, nil
}

// ValidatePatch validates only the fields a patch touches, normalizing the
// government id in place.
func ValidatePatch(p *models.FieldPatch) error {
	if p.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "patch must change at least one field")
	}
	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		p.Email = &email
	}
	if err := translate(validate.Struct(p)); err != nil {
		return err
	}
	if p.GovernmentID != nil {
		govID := normalizeGovernmentID(*p.GovernmentID)
		p.GovernmentID = &govID
	}
	return nil
}
