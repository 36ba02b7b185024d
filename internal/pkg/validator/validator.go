// Package validator adds the project's custom binding tags to gin's
// validator engine.
package validator

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const OtpCodeTag = "otpcode"

var once sync.Once

// RegisterGin is safe to call more than once.
func RegisterGin() {
	once.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			Register(v)
		}
	})
}

func Register(v *validator.Validate) {
	_ = v.RegisterValidation(OtpCodeTag, isOtpCode)
}

// isOtpCode accepts exactly six ASCII digits.
func isOtpCode(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
