package purchase

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/coursekit/core"
)

var (
	productTypeTag  = "producttype"
	productTypeText = "unknown product type"

	purchaseStatusTag  = "purchasestatus"
	purchaseStatusText = "unknown purchase status"
)

// InitValidators registers the purchase validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(productTypeTag, productTypeValidation)
	core.RegisterCustomTranslation(validate, translator, productTypeTag, productTypeText)

	_ = validate.RegisterValidation(purchaseStatusTag, purchaseStatusValidation)
	core.RegisterCustomTranslation(validate, translator, purchaseStatusTag, purchaseStatusText)
}

func productTypeValidation(fl validator.FieldLevel) bool {
	return ProductType(fl.Field().String()).IsValid()
}

func purchaseStatusValidation(fl validator.FieldLevel) bool {
	return Status(fl.Field().String()).IsValid()
}
