// Package script runs Lua chunks as atomic mutation batches against a
// project. A chunk sees a global `project` table:
//
//	project.read(path)              -> content
//	project.write(path, content)
//	project.remove(path)
//	project.rename(from, to)
//	project.list(path)              -> { name, ... }
//	project.exists(path)            -> boolean
//	project.mkdir(path)
//	project.replace(path, old, new) -> count
//	project.insert(path, line, text)
//	project.files()                 -> { path, ... }
//
// If the chunk raises an error the store is restored to its state before
// the chunk ran; otherwise all of its changes trigger one generation.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/zot/uigen/internal/logging"
	"github.com/zot/uigen/internal/project"
	"github.com/zot/uigen/internal/vfs"
)

// DefaultTimeout bounds a chunk when the caller's context has no deadline.
const DefaultTimeout = 10 * time.Second

// Result is what a chunk printed and returned.
type Result struct {
	Output []string    // lines written with print
	Value  interface{} // first return value converted to Go, nil if none
}

// Error is a failed chunk. Err is the store error that aborted it, when
// there is one, so its kind survives.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	return "script: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// goError carries a store error through Lua's error machinery.
type goError struct {
	err error
}

// Run executes source against p as one atomic batch.
func Run(ctx context.Context, p *project.Project, source string) (*Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	log := logging.Named("script").With(zap.String("project", p.ID))
	res := &Result{}
	err := p.Atomic(func(s *vfs.Store) error {
		return run(ctx, s, source, res)
	})
	if err != nil {
		log.Debug("script failed", zap.Error(err))
		return res, err
	}
	log.Debug("script finished", zap.Int("output", len(res.Output)))
	return res, nil
}

func run(ctx context.Context, s *vfs.Store, source string, res *Result) error {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openLibs(L)
	L.SetContext(ctx)

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		res.Output = append(res.Output, strings.Join(parts, "\t"))
		return 0
	}))
	L.SetGlobal("project", projectTable(L, s))

	fn, err := L.LoadString(source)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return &Error{Message: cerr.Error(), Err: cerr}
		}
		return convertError(err)
	}
	if ret := L.Get(-1); ret != lua.LNil {
		res.Value = ToGo(ret)
	}
	return nil
}

// openLibs opens the libraries a batch script may use; io, os and module
// loading stay closed.
func openLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func convertError(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if ud, ok := apiErr.Object.(*lua.LUserData); ok {
			if ge, ok := ud.Value.(*goError); ok {
				return &Error{Message: ge.err.Error(), Err: ge.err}
			}
		}
		return &Error{Message: apiErr.Object.String()}
	}
	return &Error{Message: err.Error(), Err: err}
}

// raise aborts the chunk with a store error. pcall in the chunk sees the
// error message.
func raise(L *lua.LState, err error) int {
	ud := L.NewUserData()
	ud.Value = &goError{err: err}
	mt := L.NewTable()
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(err.Error()))
		return 1
	}))
	L.SetMetatable(ud, mt)
	L.Error(ud, 1)
	return 0
}

func projectTable(L *lua.LState, s *vfs.Store) *lua.LTable {
	fns := map[string]lua.LGFunction{
		"read": func(L *lua.LState) int {
			content, err := s.Read(L.CheckString(1))
			if err != nil {
				return raise(L, err)
			}
			L.Push(lua.LString(content))
			return 1
		},
		"write": func(L *lua.LState) int {
			if err := s.Write(L.CheckString(1), L.OptString(2, "")); err != nil {
				return raise(L, err)
			}
			return 0
		},
		"remove": func(L *lua.LState) int {
			if err := s.Remove(L.CheckString(1)); err != nil {
				return raise(L, err)
			}
			return 0
		},
		"rename": func(L *lua.LState) int {
			if err := s.Move(L.CheckString(1), L.CheckString(2)); err != nil {
				return raise(L, err)
			}
			return 0
		},
		"list": func(L *lua.LState) int {
			names, err := s.List(L.OptString(1, "/"))
			if err != nil {
				return raise(L, err)
			}
			L.Push(stringList(L, names))
			return 1
		},
		"exists": func(L *lua.LState) int {
			L.Push(lua.LBool(s.Exists(L.CheckString(1))))
			return 1
		},
		"mkdir": func(L *lua.LState) int {
			if err := s.Mkdir(L.CheckString(1)); err != nil {
				return raise(L, err)
			}
			return 0
		},
		"replace": func(L *lua.LState) int {
			count, err := project.ReplaceText(s, L.CheckString(1), L.CheckString(2), L.OptString(3, ""))
			if err != nil {
				return raise(L, err)
			}
			L.Push(lua.LNumber(count))
			return 1
		},
		"insert": func(L *lua.LState) int {
			if err := project.InsertLines(s, L.CheckString(1), L.CheckInt(2), L.CheckString(3)); err != nil {
				return raise(L, err)
			}
			return 0
		},
		"files": func(L *lua.LState) int {
			paths := s.Files()
			names := make([]string, len(paths))
			for i, p := range paths {
				names[i] = string(p)
			}
			L.Push(stringList(L, names))
			return 1
		},
	}
	return L.SetFuncs(L.NewTable(), fns)
}

func stringList(L *lua.LState, items []string) *lua.LTable {
	tbl := L.CreateTable(len(items), 0)
	for _, item := range items {
		tbl.Append(lua.LString(item))
	}
	return tbl
}

// ToGo converts a Lua value to Go. Tables with only consecutive integer
// keys from 1 become slices, other tables maps.
func ToGo(val lua.LValue) interface{} {
	switch v := val.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.Len(); n > 0 && isArray(v, n) {
			arr := make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, ToGo(v.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]interface{})
		v.ForEach(func(k, val lua.LValue) {
			m[k.String()] = ToGo(val)
		})
		return m
	}
	return fmt.Sprint(val)
}

func isArray(tbl *lua.LTable, n int) bool {
	count := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { count++ })
	return count == n
}
