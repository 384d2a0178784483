package unit

import "github.com/prevant-go/prevant/internal/apperr"

// validateUserDefinedParameters checks req's user-defined parameters
// against the configured JSON schema, when one is configured. A nil
// schema (no Config, or no schema set) is a no-op so requests without
// user-defined parameters behave exactly as before this step existed.
func (b *Builder) validateUserDefinedParameters(req BuildRequest) error {
	if b.Config == nil || req.UserDefinedParameters == nil {
		return nil
	}

	schema, err := b.Config.CompileUserDefinedParamsSchema()
	if err != nil {
		return apperr.InvalidUserDefinedParameters(err.Error())
	}
	if schema == nil {
		return nil
	}
	if err := schema.Validate(req.UserDefinedParameters); err != nil {
		return apperr.InvalidUserDefinedParameters(err.Error())
	}
	return nil
}
