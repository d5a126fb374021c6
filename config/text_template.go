// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"text/template"

	"github.com/z5labs/pullserve/internal/try"
)

// RenderTextTemplateOption represents options for configuring the TextTemplateRenderer.
type RenderTextTemplateOption func(*TextTemplateRenderer)

// TemplateFunc registers the given function, f, for use in the config
// template via the given name.
func TemplateFunc(name string, f any) RenderTextTemplateOption {
	return func(ttr *TextTemplateRenderer) {
		ttr.funcs[name] = f
	}
}

// TemplateDelims sets the action delimiters to the specified strings.
// An empty delimiter stands for the corresponding default: {{ or }}.
func TemplateDelims(left, right string) RenderTextTemplateOption {
	return func(ttr *TextTemplateRenderer) {
		ttr.leftDelim = left
		ttr.rightDelim = right
	}
}

// TextTemplateRenderer is an io.Reader that renders a text/template from
// a given io.Reader.
//
// Templates can always use two functions:
//
//	{{ env "PORT" }}            the value of an environment variable
//	{{ default 8080 (env "PORT") }}  the first argument if the second is empty
type TextTemplateRenderer struct {
	r io.Reader

	leftDelim  string
	rightDelim string
	funcs      template.FuncMap

	renderOnce sync.Once
	renderErr  error
	buf        bytes.Buffer
}

// RenderTextTemplate configures a TextTemplateRenderer.
func RenderTextTemplate(r io.Reader, opts ...RenderTextTemplateOption) *TextTemplateRenderer {
	ttr := &TextTemplateRenderer{
		r: r,
		funcs: template.FuncMap{
			"env":     os.Getenv,
			"default": defaultValue,
		},
	}
	for _, opt := range opts {
		opt(ttr)
	}
	return ttr
}

// TextTemplateParseError occurs when the config template fails to be parsed.
type TextTemplateParseError struct {
	Cause error
}

// Error implements the [error] interface.
func (e TextTemplateParseError) Error() string {
	return fmt.Sprintf("failed to parse config template: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e TextTemplateParseError) Unwrap() error {
	return e.Cause
}

// TextTemplateExecError occurs when a template fails to execute. Most
// likely cause is using template functions returning an error or panicing.
type TextTemplateExecError struct {
	Cause error
}

// Error implements the [error] interface.
func (e TextTemplateExecError) Error() string {
	return fmt.Sprintf("failed to exec config template: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e TextTemplateExecError) Unwrap() error {
	return e.Cause
}

// Read implements the [io.Reader] interface.
func (ttr *TextTemplateRenderer) Read(b []byte) (int, error) {
	ttr.renderOnce.Do(func() {
		ttr.renderErr = ttr.render()
	})
	if ttr.renderErr != nil {
		return 0, ttr.renderErr
	}
	return ttr.buf.Read(b)
}

func (ttr *TextTemplateRenderer) render() (err error) {
	var sb strings.Builder
	_, err = io.Copy(&sb, ttr.r)

	// the contents were read so failing to close is not worth failing over
	try.Close(new(error), ttr.r)
	if err != nil {
		return err
	}

	tmpl, err := template.New("config").
		Delims(ttr.leftDelim, ttr.rightDelim).
		Funcs(ttr.funcs).
		Parse(sb.String())
	if err != nil {
		return TextTemplateParseError{Cause: err}
	}

	err = tmpl.Execute(&ttr.buf, struct{}{})
	if err != nil {
		return TextTemplateExecError{Cause: err}
	}
	return nil
}

func defaultValue(def, v any) any {
	if v == nil {
		return def
	}
	if reflect.ValueOf(v).IsZero() {
		return def
	}
	return v
}
