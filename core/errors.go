// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures by how the engine must react to them.
type ErrorKind uint8

const (
	// ValidationError is dropped locally and logged. Never affects safety.
	ValidationError ErrorKind = iota + 1
	// ConsensusFault is always converted to fault evidence.
	ConsensusFault
	// ResourceError is rejected synchronously at the API and never enters round state.
	ResourceError
	// FatalError halts round progression for the affected height.
	FatalError
)

func (k ErrorKind) String() string {
	switch k {
	case ValidationError:
		return "ValidationError"
	case ConsensusFault:
		return "ConsensusFault"
	case ResourceError:
		return "ResourceError"
	case FatalError:
		return "FatalError"
	default:
		return "UnknownError"
	}
}

// Code names the specific failure inside its kind.
type Code string

const (
	InsufficientStake   Code = "InsufficientStake"
	InsufficientStorage Code = "InsufficientStorage"
	BelowMinimum        Code = "BelowMinimum"
	InsufficientFunds   Code = "InsufficientFunds"
	DuplicateValidator  Code = "DuplicateValidator"
	UnknownValidator    Code = "UnknownValidator"
	InvalidStatus       Code = "InvalidStatus"
	InvalidSignature    Code = "InvalidSignature"
	MalformedMessage    Code = "MalformedMessage"
	StaleMessage        Code = "StaleMessage"
	StaleProof          Code = "StaleProof"
	InvalidProof        Code = "InvalidProof"
	ConflictingVote     Code = "ConflictingVote"
	Equivocation        Code = "Equivocation"
	Unavailability      Code = "Unavailability"
	AlreadyApplied      Code = "AlreadyApplied"
	UnknownProposal     Code = "UnknownProposal"
	DuplicateBallot     Code = "DuplicateBallot"
	NotEligible         Code = "NotEligible"
	CorruptedRecord     Code = "CorruptedRecord"
	StorageFailure      Code = "StorageFailure"
)

// Error is the user-visible error type. It carries the kind, a code and the
// affected validator or proposal.
type Error struct {
	Kind      ErrorKind
	Code      Code
	Validator *Address
	Proposal  *Bytes32
	Msg       string
	cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Code)
	if e.Validator != nil {
		fmt.Fprintf(&b, " validator=%s", e.Validator)
	}
	if e.Proposal != nil {
		fmt.Fprintf(&b, " proposal=%s", e.Proposal.AbbrevString())
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error by kind and code, so sentinel comparisons work
// regardless of the attached validator or proposal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// WithValidator returns a copy of e bound to the given validator.
func (e *Error) WithValidator(id Address) *Error {
	cpy := *e
	cpy.Validator = &id
	return &cpy
}

// WithProposal returns a copy of e bound to the given proposal.
func (e *Error) WithProposal(id Bytes32) *Error {
	cpy := *e
	cpy.Proposal = &id
	return &cpy
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cpy := *e
	cpy.cause = cause
	return &cpy
}

// WithMsg returns a copy of e with a detail message.
func (e *Error) WithMsg(format string, args ...any) *Error {
	cpy := *e
	cpy.Msg = fmt.Sprintf(format, args...)
	return &cpy
}

// NewError builds an error of the given kind and code.
func NewError(kind ErrorKind, code Code) *Error {
	return &Error{Kind: kind, Code: code}
}

// Sentinels for errors.Is checks.
var (
	ErrValidation = &Error{Kind: ValidationError}
	ErrFault      = &Error{Kind: ConsensusFault}
	ErrResource   = &Error{Kind: ResourceError}
	ErrFatal      = &Error{Kind: FatalError}
)

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether err must halt round progression.
func IsFatal(err error) bool {
	return KindOf(err) == FatalError
}
