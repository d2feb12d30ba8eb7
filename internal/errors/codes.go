// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeSessionCodeEmpty    Code = "SESSION_CODE_EMPTY"
	CodeSessionClosed       Code = "SESSION_CLOSED"
	CodeSessionBanished     Code = "SESSION_BANISHED"
	CodeSessionNameEmpty    Code = "SESSION_NAME_EMPTY"
	CodeSessionNotJoined    Code = "SESSION_NOT_JOINED"
	CodeSessionAlreadyOpen  Code = "SESSION_ALREADY_OPEN"
	CodeSessionInvalidToken Code = "SESSION_INVALID_TOKEN"

	// Membership errors
	CodeMembershipLastDM       Code = "MEMBERSHIP_LAST_DM_DEMOTION"
	CodeMembershipSelfBan      Code = "MEMBERSHIP_SELF_BAN"
	CodeMembershipNotElevated  Code = "MEMBERSHIP_NOT_ELEVATED"
	CodeMembershipUserBanned   Code = "MEMBERSHIP_USER_BANNED"
	CodeMembershipEmptyUserID  Code = "MEMBERSHIP_EMPTY_USER_ID"
	CodeMembershipUnknownUser  Code = "MEMBERSHIP_UNKNOWN_USER"
	CodeMembershipHostRequired Code = "MEMBERSHIP_HOST_REQUIRED"

	// Proposal errors
	CodeProposalInvalid   Code = "PROPOSAL_INVALID"
	CodeProposalCyclic    Code = "PROPOSAL_CYCLIC_STATE"
	CodeProposalUntyped   Code = "PROPOSAL_UNSUPPORTED_VALUE"
	CodeProposalTooLarge  Code = "PROPOSAL_DOCUMENT_TOO_LARGE"
	CodeProposalNotActive Code = "PROPOSAL_NO_ACTIVE_SESSION"

	// Map errors
	CodeMapUnknownAction  Code = "MAP_UNKNOWN_ACTION"
	CodeMapEntryNotFound  Code = "MAP_LIBRARY_ENTRY_NOT_FOUND"
	CodeMapEmptyImageURL  Code = "MAP_EMPTY_IMAGE_URL"
	CodeMapInvalidPayload Code = "MAP_INVALID_PAYLOAD"

	// Chat errors
	CodeChatInvalidKind Code = "CHAT_INVALID_KIND"
	CodeChatEmptyBody   Code = "CHAT_EMPTY_BODY"

	// Lore errors
	CodeLoreEmptySource    Code = "LORE_EMPTY_SOURCE"
	CodeLoreInvalidCeiling Code = "LORE_INVALID_CEILING"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodePersistence   Code = "PERSISTENCE_FAILED"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeSessionCodeEmpty,
		CodeSessionNameEmpty,
		CodeMembershipEmptyUserID,
		CodeProposalInvalid,
		CodeProposalCyclic,
		CodeProposalUntyped,
		CodeMapUnknownAction,
		CodeMapEmptyImageURL,
		CodeMapInvalidPayload,
		CodeChatInvalidKind,
		CodeChatEmptyBody,
		CodeLoreEmptySource,
		CodeLoreInvalidCeiling:
		return http.StatusBadRequest

	// Forbidden - authorization rejections
	case CodeSessionBanished,
		CodeMembershipNotElevated,
		CodeMembershipUserBanned,
		CodeMembershipHostRequired,
		CodeSessionInvalidToken:
		return http.StatusForbidden

	// Conflict - state doesn't allow the operation
	case CodeMembershipLastDM,
		CodeMembershipSelfBan,
		CodeSessionAlreadyOpen,
		CodeAlreadyExists:
		return http.StatusConflict

	// Not found - resource doesn't exist
	case CodeSessionNotFound,
		CodeMapEntryNotFound,
		CodeMembershipUnknownUser,
		CodeNotFound:
		return http.StatusNotFound

	// Precondition failures on the engine lifecycle
	case CodeSessionClosed,
		CodeSessionNotJoined,
		CodeProposalNotActive:
		return http.StatusPreconditionFailed

	// Payload too large
	case CodeProposalTooLarge:
		return http.StatusRequestEntityTooLarge

	default:
		return http.StatusInternalServerError
	}
}
