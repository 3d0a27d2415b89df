// Copyright 2017 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package log

import (
	"bytes"
	"fmt"
	"log/slog"
	"math/big"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/holiman/uint256"
)

const (
	timeFormat        = "2006-01-02T15:04:05-0700"
	termTimeFormat    = "01-02|15:04:05.000"
	termMsgJust       = 40
	termCtxMaxPadding = 40
)

func levelColor(l slog.Level) int {
	switch l {
	case LevelCrit:
		return 35
	case slog.LevelError:
		return 31
	case slog.LevelWarn:
		return 33
	case slog.LevelInfo:
		return 32
	case slog.LevelDebug:
		return 36
	case LevelTrace:
		return 34
	default:
		return 0
	}
}

// format renders r as
//
//	LEVEL [01-02|15:04:05.000] message                                  key=value key=value
func (h *TerminalHandler) format(buf []byte, r slog.Record, usecolor bool) []byte {
	b := bytes.NewBuffer(buf)

	lvl := LevelAlignedString(r.Level)
	if color := levelColor(r.Level); usecolor && color > 0 {
		fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m", color, lvl)
	} else {
		b.WriteString(lvl)
	}
	b.WriteString(" [")
	b.WriteString(r.Time.Format(termTimeFormat))
	b.WriteString("] ")
	b.WriteString(r.Message)

	// try to justify the log output for short messages
	if r.NumAttrs()+len(h.attrs) > 0 && len(r.Message) < termMsgJust {
		b.Write(bytes.Repeat([]byte{' '}, termMsgJust-len(r.Message)))
	}

	h.formatAttributes(b, r, usecolor)
	b.WriteByte('\n')
	return b.Bytes()
}

func (h *TerminalHandler) formatAttributes(b *bytes.Buffer, r slog.Record, usecolor bool) {
	writeAttr := func(attr slog.Attr, last bool) {
		b.WriteByte(' ')
		if usecolor {
			fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m=", levelColor(r.Level), attr.Key)
		} else {
			b.WriteString(attr.Key)
			b.WriteByte('=')
		}
		val := formatValue(attr.Value)
		b.WriteString(val)

		padding := h.fieldPadding[attr.Key]
		length := utf8.RuneCountInString(val)
		if padding < length && length <= termCtxMaxPadding {
			padding = length
			h.fieldPadding[attr.Key] = padding
		}
		if !last && length < padding {
			b.Write(bytes.Repeat([]byte{' '}, padding-length))
		}
	}
	n := 0
	total := r.NumAttrs() + len(h.attrs)
	for _, attr := range h.attrs {
		n++
		writeAttr(attr, n == total)
	}
	r.Attrs(func(attr slog.Attr) bool {
		n++
		writeAttr(attr, n == total)
		return true
	})
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return quoteIfNeeded(v.String())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(timeFormat)
	}

	switch value := v.Any().(type) {
	case nil:
		return "<nil>"
	case *big.Int:
		if value == nil {
			return "<nil>"
		}
		return value.String()
	case *uint256.Int:
		if value == nil {
			return "<nil>"
		}
		return value.Dec()
	case error:
		return quoteIfNeeded(value.Error())
	case fmt.Stringer:
		if reflect.ValueOf(value).Kind() == reflect.Pointer && reflect.ValueOf(value).IsNil() {
			return "<nil>"
		}
		return quoteIfNeeded(value.String())
	case time.Time:
		return value.Format(timeFormat)
	default:
		return quoteIfNeeded(fmt.Sprintf("%+v", value))
	}
}

func quoteIfNeeded(s string) string {
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' || r > '~' {
			return strconv.Quote(s)
		}
	}
	return s
}
