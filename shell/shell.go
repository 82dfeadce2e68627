// Package shell runs shell commands to completion while streaming their
// output as an ordered channel of tagged chunks.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// chunkChannelBuffer is the size of the chunk channel. A slow consumer
// applies backpressure to the pipe readers; chunks are never dropped.
const chunkChannelBuffer = 64

// Stream identifies which output stream a chunk came from.
type Stream string

const (
	// Stdout tags standard-output chunks.
	Stdout Stream = "stdout"
	// Stderr tags standard-error chunks.
	Stderr Stream = "stderr"
)

// Chunk is one piece of subprocess output. Chunks are not aligned on
// line boundaries; callers that need line semantics must buffer and
// split themselves.
type Chunk struct {
	Stream Stream
	Data   string
}

// Result captures the full output of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a command that exited non-zero, carrying the code
// and both accumulated output buffers.
type ExitError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed with code %d", e.Code)
}

// Options configures a command invocation.
type Options struct {
	// Command is a shell command line, run via bash -lc.
	Command string

	// Dir is the working directory.
	Dir string

	// Env is the subprocess environment. Nil inherits the parent's.
	Env []string
}

// Cmd is a started command. The caller may consume Chunks, Wait, or
// both. Commands that produce more output than the chunk buffer holds
// must drain Chunks before Wait, or the pipe readers stall.
type Cmd struct {
	chunks chan Chunk
	done   chan struct{}

	// mu guards result and err, committed before done closes.
	mu     sync.Mutex
	result Result
	err    error
}

// Start launches the command and begins streaming its output.
func Start(ctx context.Context, opts Options) (*Cmd, error) {
	proc := exec.CommandContext(ctx, "bash", "-lc", opts.Command)
	proc.Dir = opts.Dir
	proc.Env = opts.Env

	stdout, err := proc.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	cmd := &Cmd{
		chunks: make(chan Chunk, chunkChannelBuffer),
		done:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	var outBuf, errBuf strings.Builder
	readers.Add(2)
	go cmd.readStream(&readers, Stdout, stdout, &outBuf)
	go cmd.readStream(&readers, Stderr, stderr, &errBuf)

	go func() {
		// Pipes must be fully drained before Wait per os/exec.
		readers.Wait()
		close(cmd.chunks)

		waitErr := proc.Wait()

		result := Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
		var resultErr error
		switch {
		case waitErr == nil:
		case isExitError(waitErr):
			result.ExitCode = proc.ProcessState.ExitCode()
			resultErr = &ExitError{Code: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr}
		default:
			result.ExitCode = -1
			resultErr = fmt.Errorf("wait for command: %w", waitErr)
		}

		cmd.mu.Lock()
		cmd.result = result
		cmd.err = resultErr
		cmd.mu.Unlock()
		close(cmd.done)
	}()

	return cmd, nil
}

// Chunks returns the ordered stream of output chunks. The channel is
// closed once both pipes reach EOF.
func (c *Cmd) Chunks() <-chan Chunk {
	return c.chunks
}

// Wait blocks until the process exits. It returns the accumulated
// output and exit code; a non-zero exit is reported as an *ExitError
// carrying both buffers.
func (c *Cmd) Wait() (Result, error) {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// Run executes the command to completion, delivering every output chunk
// to sink in arrival order. sink may be nil.
func Run(ctx context.Context, opts Options, sink func(Chunk)) (Result, error) {
	cmd, err := Start(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	for chunk := range cmd.Chunks() {
		if sink != nil {
			sink(chunk)
		}
	}
	return cmd.Wait()
}

func (c *Cmd) readStream(readers *sync.WaitGroup, stream Stream, r io.Reader, buf *strings.Builder) {
	defer readers.Done()

	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			text := string(chunk[:n])
			buf.WriteString(text)
			c.chunks <- Chunk{Stream: stream, Data: text}
		}
		if err != nil {
			return
		}
	}
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
