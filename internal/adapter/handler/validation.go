package handler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Deductor is the deduction entry point both transports call.
type Deductor interface {
	Deduct(ctx context.Context, req domain.DeductRequest) (domain.DeductResult, error)
}

type ItemManager interface {
	Create(ctx context.Context, code, description string, balance int64) (*domain.Item, error)
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	GetByCode(ctx context.Context, code string) (*domain.Item, error)
	Update(ctx context.Context, id, description string, balance int64) (*domain.Item, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q domain.ItemQuery) (domain.ItemPage, error)
}

var (
	itemCodePattern       = regexp.MustCompile(`^[A-Z0-9-]+$`)
	idempotencyKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	mustRegister(v, "itemcode", func(fl validator.FieldLevel) bool {
		return itemCodePattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "idemkey", func(fl validator.FieldLevel) bool {
		return idempotencyKeyPattern.MatchString(fl.Field().String())
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %s: %v", tag, err))
	}
}

// validateStruct returns a single readable message listing every failed field.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "itemcode":
		return fe.Field() + " may only contain uppercase letters, digits and hyphens"
	case "idemkey":
		return fe.Field() + " may only contain letters, digits, hyphens and underscores"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
