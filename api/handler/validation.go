package handler

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/use-agent/casefinder/models"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding tags used by the request
// models ("plate") on gin's validator. Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("plate", validPlate)
	})
}

func validPlate(fl validator.FieldLevel) bool {
	return models.ValidPlate(models.NormalizePlate(fl.Field().String()))
}
