package wallet

import "errors"

var (
	ErrInvalidMnemonic    = errors.New("invalid mnemonic")
	ErrInvalidExtendedKey = errors.New("invalid extended key")
)
