package domain

import "strings"

type SessionID string
type UserID string
type FeedbackID string

// Role identifies who produced a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// NormalizeRole maps any unknown role to RoleSystem so downstream
// consumers only ever see the three known values.
func NormalizeRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser
	case RoleAssistant:
		return RoleAssistant
	default:
		return RoleSystem
	}
}

// AcademicLevel is the degree level the project is defended at.
type AcademicLevel string

const (
	LevelBachelors    AcademicLevel = "Bachelor's"
	LevelMasters      AcademicLevel = "Master's"
	LevelPhD          AcademicLevel = "PhD"
	LevelUndetermined AcademicLevel = "To be determined"
)

// ParseAcademicLevel is lenient: the preparation call reports levels as
// free text, so common spellings are accepted and anything else falls
// back to undetermined.
func ParseAcademicLevel(s string) AcademicLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bachelor", "bachelors", "bachelor's", "bsc", "undergraduate":
		return LevelBachelors
	case "master", "masters", "master's", "msc":
		return LevelMasters
	case "phd", "ph.d", "ph.d.", "doctorate", "doctoral":
		return LevelPhD
	default:
		return LevelUndetermined
	}
}

// Phase is the stage of the defense session a voice call belongs to.
type Phase string

const (
	PhasePreparation Phase = "preparation"
	PhaseExamination Phase = "examination"
)

// CallStatus is the lifecycle state of the current voice call.
type CallStatus string

const (
	CallInactive   CallStatus = "inactive"
	CallConnecting CallStatus = "connecting"
	CallActive     CallStatus = "active"
	CallFinished   CallStatus = "finished"
	CallError      CallStatus = "error"
)
