package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Synchronization ───────────────────────────────────────────────
	ErrVersionConflict   ErrCode = "CONFLIT_VERSION"
	ErrInvalidTransition ErrCode = "TRANSITION_INVALIDE"
	ErrResumeAmbiguous   ErrCode = "REPRISE_AMBIGUE"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "La validation a échoué. Veuillez vérifier votre saisie."
	case ErrInvalidID:
		return "Format d'identifiant invalide."
	case ErrInvalidPayload:
		return "Corps de la requête invalide."

	// ─── Synchronization ───────────────────────────────────────────────
	case ErrVersionConflict:
		return "La version du client est périmée. Récupérez l'état du serveur avant de réessayer."
	case ErrInvalidTransition:
		return "Cette transition de statut n'est pas autorisée."
	case ErrResumeAmbiguous:
		return "Plusieurs passations actives trouvées. Contactez l'administrateur."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Passation introuvable."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Trop de requêtes. Veuillez réessayer plus tard."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Une erreur interne du serveur s'est produite."
	default:
		return "Une erreur inattendue s'est produite."
	}
}
