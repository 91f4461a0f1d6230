package handlers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/middleware"
	"EscrowEngine/internal/models"
	"EscrowEngine/internal/services"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// parseBody decodes the JSON body into req and runs its validate tags.
func parseBody(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.Validation("Invalid request body")
	}
	return validateStruct(req)
}

// parseOptionalBody is parseBody for endpoints whose body may be empty.
func parseOptionalBody(c *fiber.Ctx, req interface{}) error {
	if len(c.Body()) == 0 {
		return validateStruct(req)
	}
	return parseBody(c, req)
}

func validateStruct(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return apperrors.Validation(fe.Field() + " failed " + fe.Tag() + " validation")
		}
		return apperrors.Validation(err.Error())
	}
	return nil
}

func actorFrom(c *fiber.Ctx) services.Actor {
	return services.Actor{
		UserID: middleware.UserIDOf(c),
		Roles:  middleware.RolesOf(c),
	}
}

// respondError writes err in the API error shape. When tx is known it is
// returned too so the client can resynchronize.
func respondError(c *fiber.Ctx, log *logrus.Entry, err error, tx *models.Transaction) error {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal("internal error", err)
	}

	body := fiber.Map{
		"error": appErr.Message,
		"code":  appErr.Code,
	}
	if appErr.Code == apperrors.CodeInternal {
		log.WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
		}).WithError(err).Error("Request failed")
		body["error"] = "Internal server error"
	}
	if tx != nil {
		body["transaction"] = tx
	}
	return c.Status(appErr.HTTPStatus()).JSON(body)
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	return c.QueryInt("limit", 0), c.QueryInt("offset", 0)
}
