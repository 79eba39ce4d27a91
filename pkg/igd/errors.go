package igd

import (
	"errors"
	"fmt"
)

// UPnPError is a fault returned by the gateway, carrying the numeric UPnP
// error code and its free-text description. Codes that an operation does not
// translate into one of the named errors below are still returned as a
// *UPnPError so callers can inspect them with errors.As.
type UPnPError struct {
	Code        uint16
	Description string
}

func (e *UPnPError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Description)
}

// InvalidResponseError reports a response from the gateway that could not be
// understood. Text holds the raw response body for diagnostics; Field names
// the offending element when a single field failed to decode.
type InvalidResponseError struct {
	Text  string
	Field string
}

func (e *InvalidResponseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid response from gateway: bad field %s", e.Field)
	}
	return fmt.Sprintf("invalid response from gateway: %s", e.Text)
}

var (
	// ErrActionNotAuthorized is returned when the gateway refuses to let this
	// client perform the requested operation.
	ErrActionNotAuthorized = errors.New("the client is not authorized to perform the operation")

	// ErrInternalPortZeroInvalid is returned when a mapping is requested for
	// local port 0.
	ErrInternalPortZeroInvalid = errors.New("cannot add a mapping for local port 0")

	// ErrExternalPortZeroInvalid is returned by AddPort when the requested
	// external port is 0.
	ErrExternalPortZeroInvalid = errors.New("external port 0 is not a valid mapping target")

	// ErrNoPortsAvailable is returned when the gateway has no free external
	// ports left.
	ErrNoPortsAvailable = errors.New("the gateway does not have any free ports")

	// ErrExternalPortInUse is returned when the gateway only maps internal
	// ports to same-numbered external ports and that external port is taken.
	ErrExternalPortInUse = errors.New("the external port matching the internal port is in use")

	// ErrPortInUse is returned by AddPort when the requested mapping conflicts
	// with a mapping held by another client.
	ErrPortInUse = errors.New("the requested mapping conflicts with an existing mapping")

	// ErrSamePortValuesRequired is returned when the gateway requires the
	// internal and external ports of a mapping to be equal.
	ErrSamePortValuesRequired = errors.New("the gateway requires equal internal and external ports")

	// ErrOnlyPermanentLeasesSupported is returned when the gateway only
	// supports a lease duration of 0.
	ErrOnlyPermanentLeasesSupported = errors.New("the gateway only supports permanent leases")

	// ErrDescriptionTooLong is returned when the mapping description exceeds
	// what the gateway can store.
	ErrDescriptionTooLong = errors.New("the description is too long for the gateway")

	// ErrNoSuchPortMapping is returned by RemovePort when no mapping exists
	// for the given protocol and external port.
	ErrNoSuchPortMapping = errors.New("no such port mapping")

	// ErrSpecifiedArrayIndexInvalid is returned by PortMappingEntryByIndex
	// when the index is past the end of the gateway's mapping table.
	ErrSpecifiedArrayIndexInvalid = errors.New("no port mapping entry at the given index")

	// ErrServiceNotFound is returned when a device description contains no
	// WAN connection service with a usable control URL.
	ErrServiceNotFound = errors.New("no WAN connection service found in device description")
)

// UPnP error codes recognized by the operations in this package.
const (
	codeInvalidAction          = 401
	codeArgumentValueTooLong   = 605
	codeActionNotAuthorized    = 606
	codeSpecifiedArrayIndexBad = 713
	codeNoSuchEntryInArray     = 714
	codeConflictInMappingEntry = 718
	codeSamePortValuesRequired = 724
	codeOnlyPermanentLeases    = 725
	codeNoPortMapsAvailable    = 728
)

// errorCode extracts the UPnP error code out of err, if there is one.
func errorCode(err error) (uint16, bool) {
	var ue *UPnPError
	if errors.As(err, &ue) {
		return ue.Code, true
	}
	return 0, false
}

func translateGetExternalIPError(err error) error {
	if code, ok := errorCode(err); ok && code == codeActionNotAuthorized {
		return ErrActionNotAuthorized
	}
	return err
}

func translateAddPortError(err error) error {
	code, ok := errorCode(err)
	if !ok {
		return err
	}
	switch code {
	case codeArgumentValueTooLong:
		return ErrDescriptionTooLong
	case codeActionNotAuthorized:
		return ErrActionNotAuthorized
	case codeConflictInMappingEntry:
		return ErrPortInUse
	case codeSamePortValuesRequired:
		return ErrSamePortValuesRequired
	case codeOnlyPermanentLeases:
		return ErrOnlyPermanentLeasesSupported
	}
	return err
}

func translateRemovePortError(err error) error {
	code, ok := errorCode(err)
	if !ok {
		return err
	}
	switch code {
	case codeActionNotAuthorized:
		return ErrActionNotAuthorized
	case codeNoSuchEntryInArray:
		return ErrNoSuchPortMapping
	}
	return err
}

func translatePortMappingEntryError(err error) error {
	code, ok := errorCode(err)
	if !ok {
		return err
	}
	switch code {
	case codeActionNotAuthorized:
		return ErrActionNotAuthorized
	case codeSpecifiedArrayIndexBad:
		return ErrSpecifiedArrayIndexInvalid
	}
	return err
}
