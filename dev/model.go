package dev

import (
	"context"
	"errors"
	"time"

	"github.com/udhos/ersbackup/conf"
)

const (
	fetchErrNone    = 0
	fetchErrTransp  = 1 // could not open session
	fetchErrTimeout = 2 // expected literal never showed up
	fetchErrChat    = 3 // transport failed mid-dialog
	fetchErrCancel  = 4 // batch cancelled while in flight
)

// Status is the terminal classification of one device attempt.
type Status int

// Device attempt classifications.
const (
	StatusSuccess Status = iota
	StatusFailure
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "Success"
	}
	return "Failure"
}

// Credentials are shared by every device of a batch.
type Credentials struct {
	User     string
	Password string
}

// Outcome records one device attempt.
type Outcome struct {
	Address       string
	Hostname      string // empty when the attempt failed before the prompt
	HostnameFound bool
	Filename      string // backup file name sent to the device
	Status        Status
	Detail        string // error detail, set iff Status is StatusFailure
	Step          string // failed step name, if any
	Code          int
	Model         string
	Transport     string
	Begin         time.Time
	Timestamp     time.Time // when the outcome was produced
}

// Success reports whether the device confirmed the backup.
func (o *Outcome) Success() bool {
	return o.Status == StatusSuccess
}

// Elapsed is the duration of the attempt.
func (o *Outcome) Elapsed() time.Duration {
	return o.Timestamp.Sub(o.Begin)
}

func (o *Outcome) interrupted() bool {
	return o.Code == fetchErrCancel
}

// scriptSession plus lifecycle: what an attempt needs from a connection.
type session interface {
	scriptSession
	Close()
	Transport() string
}

type opener func(ctx context.Context, logger hasPrintf, address string, opt *conf.AppConfig, cred Credentials) (session, error)

func openSession(ctx context.Context, logger hasPrintf, address string, opt *conf.AppConfig, cred Credentials) (session, error) {
	s, err := Open(ctx, logger, address, opt.Port, opt.Transports, cred.User, cred.Password, opt.Timeout, opt.Debug)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// attempt runs the full dialog against one device with a fresh session.
// The session is always closed before returning; cancellation of ctx
// closes it early, unblocking any pending read.
func attempt(ctx context.Context, logger hasPrintf, open opener, model *Model, address string, opt *conf.AppConfig, cred Credentials, clock func() time.Time) Outcome {

	o := Outcome{
		Address: address,
		Model:   model.Name(),
		Status:  StatusFailure,
		Begin:   clock(),
	}

	fail := func(code int, err error) Outcome {
		o.Code = code
		o.Detail = err.Error()
		o.Timestamp = clock()
		return o
	}

	if err := ctx.Err(); err != nil {
		return fail(fetchErrCancel, err)
	}

	s, openErr := open(ctx, logger, address, opt, cred)
	if openErr != nil {
		if ctx.Err() != nil {
			return fail(fetchErrCancel, openErr)
		}
		return fail(fetchErrTransp, openErr)
	}

	defer s.Close()

	o.Transport = s.Transport()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	vars := Vars{
		User:       cred.User,
		Password:   cred.Password,
		TftpServer: opt.TftpServer,
		Address:    address,
	}

	result, runErr := model.Script().Run(logger, "device "+address, s, vars, opt.Timeout, clock, opt.Debug)

	o.Hostname = result.Hostname
	o.HostnameFound = result.HostnameFound
	o.Filename = result.Filename

	if runErr != nil {
		var se *StepError
		if errors.As(runErr, &se) {
			o.Step = se.Step
		}
		switch {
		case ctx.Err() != nil:
			return fail(fetchErrCancel, runErr)
		case IsTimeout(runErr):
			return fail(fetchErrTimeout, runErr)
		default:
			return fail(fetchErrChat, runErr)
		}
	}

	o.Status = StatusSuccess
	o.Code = fetchErrNone
	o.Timestamp = clock()

	return o
}
