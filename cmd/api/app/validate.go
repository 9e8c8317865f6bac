package app

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/ptessari/devicedesk-go/internal/store"
)

var deviceStatuses = map[string]bool{
	string(store.StatusAvailable):     true,
	string(store.StatusReserved):      true,
	string(store.StatusAssigned):      true,
	string(store.StatusInReclamation): true,
	string(store.StatusScrapped):      true,
}

// registerValidators adds the enum checks the binding tags rely on.
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("devicestatus", func(fl validator.FieldLevel) bool {
		return deviceStatuses[fl.Field().String()]
	})
}
