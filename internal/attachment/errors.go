package attachment

import "errors"

var (
	ErrInvalidFile  = errors.New("attachment needs a file name and a body")
	ErrFileTooLarge = errors.New("attachment exceeds the size limit")
)
