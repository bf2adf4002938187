package dev

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Keys injected into the device menus.
const (
	KeyTab             = "\t"
	KeyCtrlY           = "\x19"
	KeyMenuCommandLine = "\x63" // 'c'
	KeyMenuLogout      = "\x6c" // 'l'
)

const dateLayout = "02/01/2006"

// Step is one expect/send unit of a device dialog.
// Expect is waited for first (when not empty), then every Send payload is
// written separately, in order. Payloads are text/template strings over Vars.
type Step struct {
	Name    string
	Expect  string
	Send    []string
	Capture bool // extract the hostname from the text read by Expect
	Secret  bool // payload carries the password
	Cleanup bool // runs even after a failed step, errors ignored
}

// Vars holds the values available to step payloads.
type Vars struct {
	User       string
	Password   string
	TftpServer string
	Address    string
	Hostname   string
	Date       string // DD/MM/YYYY, taken when the payload is rendered
	Filename   string // <address>-<hostname>_<date>
}

// BackupFilename builds the name the device uses for the pushed configuration.
func BackupFilename(address, hostname, date string) string {
	return address + "-" + hostname + "_" + date
}

type compiledStep struct {
	Step
	payloads     []*template.Template
	usesFilename bool
}

// Script is an ordered, immutable list of steps run by a single executor.
type Script struct {
	name  string
	steps []compiledStep
}

// NewScript compiles the payload templates of every step.
func NewScript(name string, steps []Step) (*Script, error) {
	s := &Script{name: name}
	for i, st := range steps {
		cs := compiledStep{Step: st}
		for j, text := range st.Send {
			t, err := template.New(fmt.Sprintf("%s/%d/%d", name, i, j)).Parse(text)
			if err != nil {
				return nil, fmt.Errorf("NewScript: %s step %d %s payload %d: %v", name, i+1, st.Name, j, err)
			}
			cs.payloads = append(cs.payloads, t)
			if strings.Contains(text, ".Filename") {
				cs.usesFilename = true
			}
		}
		s.steps = append(s.steps, cs)
	}
	return s, nil
}

// Steps returns a copy of the step descriptors.
func (s *Script) Steps() []Step {
	list := make([]Step, len(s.steps))
	for i, st := range s.steps {
		list[i] = st.Step
	}
	return list
}

// StepError names the step that aborted a dialog.
type StepError struct {
	Index int // 1-based
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d %s: %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type scriptSession interface {
	ReadUntil(pattern string, timeout time.Duration) ([]byte, error)
	Write(b []byte) error
}

// ScriptResult is what a dialog learned, even when it failed.
type ScriptResult struct {
	Hostname      string
	HostnameFound bool
	Filename      string
}

type scriptRun struct {
	logger  hasPrintf
	label   string
	debug   bool
	timeout time.Duration
	clock   func() time.Time
	vars    Vars
	result  ScriptResult
}

// Run drives the dialog over sess. The first failing step aborts every
// following non-cleanup step; cleanup steps always run.
func (s *Script) Run(logger hasPrintf, label string, sess scriptSession, vars Vars, timeout time.Duration, clock func() time.Time, debug bool) (ScriptResult, error) {
	r := &scriptRun{
		logger:  logger,
		label:   label,
		debug:   debug,
		timeout: timeout,
		clock:   clock,
		vars:    vars,
	}

	var failure error

	for i, st := range s.steps {
		if failure != nil && !st.Cleanup {
			continue
		}

		err := r.step(sess, st)
		if err == nil {
			continue
		}

		if st.Cleanup {
			if debug {
				logger.Printf("%s: cleanup step %s: %v", label, st.Name, err)
			}
			continue
		}

		failure = &StepError{Index: i + 1, Step: st.Name, Err: err}
	}

	return r.result, failure
}

func (r *scriptRun) step(sess scriptSession, st compiledStep) error {

	if st.Expect != "" {
		buf, err := sess.ReadUntil(st.Expect, r.timeout)
		if err != nil {
			return err
		}
		if st.Capture {
			r.capture(buf)
		}
	}

	for i, t := range st.payloads {
		payload, err := r.render(t)
		if err != nil {
			return err
		}

		if r.debug {
			if st.Secret {
				r.logger.Printf("%s: debug send: %s payload %d: [<password>]", r.label, st.Name, i)
			} else {
				r.logger.Printf("%s: debug send: [%q]", r.label, payload)
			}
		}

		if st.usesFilename {
			r.result.Filename = r.vars.Filename
		}

		if err := sess.Write(payload); err != nil {
			return err
		}
	}

	return nil
}

func (r *scriptRun) capture(buf []byte) {
	hostname, found := ExtractHostname(string(buf))
	if !found {
		r.logger.Printf("%s: hostname not found before prompt: [%q]", r.label, diagnosticLine(buf))
	}
	r.vars.Hostname = hostname
	r.result.Hostname = hostname
	r.result.HostnameFound = found
}

func (r *scriptRun) render(t *template.Template) ([]byte, error) {
	r.vars.Date = r.clock().Format(dateLayout)
	r.vars.Filename = BackupFilename(r.vars.Address, r.vars.Hostname, r.vars.Date)

	var b bytes.Buffer
	if err := t.Execute(&b, r.vars); err != nil {
		return nil, fmt.Errorf("payload: %v", err)
	}

	return b.Bytes(), nil
}
