package server

import (
	"encoding/json"
	"net/http"

	"github.com/prevant-go/prevant/internal/apperr"
	pkgstrings "github.com/prevant-go/prevant/pkg/strings"
)

// errorBody is the JSON shape every non-2xx response carries.
type errorBody struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// detailMaxLen bounds how much of a wrapped error chain (which for
// KindInfrastructureError can include multi-line docker/kubectl output) is
// echoed back to the client.
const detailMaxLen = 240

// statusForKind maps the stable error taxonomy to an HTTP status, per the
// table in spec.md's error handling section.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAppNotFound:
		return http.StatusNotFound
	case apperr.KindAppInDeployment, apperr.KindAppInDeletion:
		return http.StatusConflict
	case apperr.KindInvalidAppName,
		apperr.KindInvalidServiceConfig,
		apperr.KindInvalidTemplateFormat,
		apperr.KindInvalidDeploymentHook,
		apperr.KindInvalidUserDefinedParams,
		apperr.KindImageNotFound,
		apperr.KindRegistryAuthFailure:
		return http.StatusBadRequest
	case apperr.KindInfrastructureError, apperr.KindInvalidServerConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON error body with the status its Kind maps
// to, falling back to an opaque 500 for errors outside the taxonomy.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		kind = apperr.KindInfrastructureError
	}
	body := errorBody{Kind: string(kind), Detail: pkgstrings.TruncateDescription(err.Error(), detailMaxLen)}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	_ = json.NewEncoder(w).Encode(body)
}
