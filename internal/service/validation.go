package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kelaseh/backend/internal/models"
)

var mobilePattern = regexp.MustCompile(`^09[0-9]{9}$`)

// NewValidator returns a validator with the case-intake tags registered and
// JSON field names used in error namespaces.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("nationalcode", func(fl validator.FieldLevel) bool {
		return ValidNationalCode(fl.Field().String())
	})
	_ = v.RegisterValidation("irmobile", func(fl validator.FieldLevel) bool {
		return mobilePattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidNationalCode checks the 10-digit national identifier and its check digit.
func ValidNationalCode(code string) bool {
	if len(code) != 10 {
		return false
	}
	allSame := true
	sum := 0
	for i := 0; i < 10; i++ {
		ch := code[i]
		if ch < '0' || ch > '9' {
			return false
		}
		if ch != code[0] {
			allSame = false
		}
		if i < 9 {
			sum += int(ch-'0') * (10 - i)
		}
	}
	if allSame {
		return false
	}
	check := int(code[9] - '0')
	r := sum % 11
	if r < 2 {
		return check == r
	}
	return check == 11-r
}

// NormalizeDigits maps Persian and Arabic-Indic digits to ASCII.
func NormalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		}
		return r
	}, s)
}

func normalizeParty(p models.Party) models.Party {
	p.Name = strings.TrimSpace(p.Name)
	p.NationalCode = NormalizeDigits(strings.TrimSpace(p.NationalCode))
	p.Mobile = NormalizeDigits(strings.TrimSpace(p.Mobile))
	p.Address = strings.TrimSpace(p.Address)
	return p
}

// NormalizeCaseInput trims free text and normalizes identifier digits.
func NormalizeCaseInput(in models.CaseInput) models.CaseInput {
	in.Plaintiff = normalizeParty(in.Plaintiff)
	in.Defendant = normalizeParty(in.Defendant)
	in.Subject = strings.TrimSpace(in.Subject)
	return in
}

// ValidateCaseInput returns a caller-facing description of the first problems found.
func ValidateCaseInput(v *validator.Validate, in models.CaseInput) error {
	if err := v.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			ns := fe.Namespace()
			if i := strings.IndexByte(ns, '.'); i >= 0 {
				ns = ns[i+1:]
			}
			fields = append(fields, fmt.Sprintf("%s failed %s", ns, fe.Tag()))
		}
		return errors.New(strings.Join(fields, "; "))
	}
	if in.Plaintiff.NationalCode == in.Defendant.NationalCode {
		return errors.New("plaintiff and defendant must be different people")
	}
	return nil
}
