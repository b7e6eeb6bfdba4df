package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/imaging"
)

// Result is what a command produced.
type Result struct {
	Status int
	Body   []byte
	Header Header
	Image  *imaging.Image
}

// Completion is the single terminal outcome of an admitted command: either
// *Success or *Failure.
type Completion interface {
	Command() *Command
	completion()
}

type Success struct {
	Cmd *Command
	Result
}

type Failure struct {
	Cmd *Command
	Err error
}

func (s *Success) Command() *Command { return s.Cmd }
func (*Success) completion()         {}

func (f *Failure) Command() *Command { return f.Cmd }
func (*Failure) completion()         {}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %v", f.Cmd, f.Err) }
func (f *Failure) Unwrap() error { return f.Err }

func Succeed(cmd *Command, r Result) *Success { return &Success{Cmd: cmd, Result: r} }

func Fail(cmd *Command, err error) *Failure { return &Failure{Cmd: cmd, Err: err} }

// JSON decodes the body of a structured API answer.
func (s *Success) JSON(v any) error {
	if err := json.Unmarshal(s.Body, v); err != nil {
		return fmt.Errorf("%s: %w: %w", s.Cmd, data.ErrDecode, err)
	}
	return nil
}
