// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package gamearchives

import "github.com/elliotnunn/gamearchives/internal/archive"

// Errors reported by Open and by the packages it returns. Test with [errors.Is].
var (
	ErrUnsupportedFormat  = archive.ErrUnsupportedFormat
	ErrCorruptHeader      = archive.ErrCorruptHeader
	ErrMissingVolume      = archive.ErrMissingVolume
	ErrPasscodeRequired   = archive.ErrPasscodeRequired
	ErrInvalidPasscode    = archive.ErrInvalidPasscode
	ErrBlockChainBroken   = archive.ErrBlockChainBroken
	ErrUnsupportedFeature = archive.ErrUnsupportedFeature
	ErrNotFound           = archive.ErrNotFound
	ErrReadOnly           = archive.ErrReadOnly
)

// LookupError names the path component that could not be found.
type LookupError = archive.LookupError
