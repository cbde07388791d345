// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Envelope is the wire format of a unit of work: the name of the job
// class and its positional arguments. Envelopes carry no identifier;
// two envelopes are the same job if their encodings are equal.
type Envelope struct {
	Class string        `json:"class"`
	Args  []interface{} `json:"args"`
}

// NewEnvelope creates an envelope for class with the given arguments.
func NewEnvelope(class string, args ...interface{}) Envelope {
	return Envelope{Class: class, Args: args}
}

// Encode returns the JSON encoding stored in queues.
func (e Envelope) Encode() (string, error) {
	if e.Args == nil {
		e.Args = []interface{}{}
	}
	v, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("jobconsole: encode %s: %w", e.Class, err)
	}
	return string(v), nil
}

// DecodeEnvelope parses an encoded envelope.
func DecodeEnvelope(s string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return Envelope{}, fmt.Errorf("jobconsole: decode envelope: %w", err)
	}
	return e, nil
}

// canonical returns the JSON form used for structural comparison. Values
// that went through a JSON round trip (e.g. ints that became float64)
// compare equal to their originals.
func (e Envelope) canonical() string {
	s, err := e.Encode()
	if err != nil {
		return ""
	}
	d, err := DecodeEnvelope(s)
	if err != nil {
		return ""
	}
	s, _ = d.Encode()
	return s
}

// Equal reports whether e and o are structurally equal.
func (e Envelope) Equal(o Envelope) bool {
	a, b := e.canonical(), o.canonical()
	return a != "" && a == b
}

// EnvelopeMatcher is a predicate over envelopes.
type EnvelopeMatcher func(Envelope) bool

// MatchEnvelope returns a matcher for envelopes structurally equal to e.
func MatchEnvelope(e Envelope) EnvelopeMatcher {
	want := e.canonical()
	return func(o Envelope) bool {
		return want != "" && o.canonical() == want
	}
}

// MatchClass returns a matcher for envelopes of the given class.
func MatchClass(class string) EnvelopeMatcher {
	return func(o Envelope) bool {
		return o.Class == class
	}
}

// Job is a unit of work handed to a Processor.
type Job struct {
	Queue string        // queue the job was reserved from
	Class string        // class name of the envelope
	Args  []interface{} // arguments of the envelope
	// Worker is the worker performing the job. It is nil when the job is
	// performed inline.
	Worker PauseChecker
}

// Envelope returns the envelope the job was created from.
func (j *Job) Envelope() Envelope {
	return Envelope{Class: j.Class, Args: j.Args}
}

// Fingerprint identifies a stored row by the SHA-1 of its encoding.
// Rows with identical bytes share a fingerprint.
func Fingerprint(raw string) string {
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
