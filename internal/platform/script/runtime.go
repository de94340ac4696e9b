package script

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/faithleysath/pt-web-automation/internal/platform"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

const maxResponseBody = 8 << 20

// Request is the argument of the request() host binding.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// Response is what request() returns to scripts.
type Response struct {
	StatusCode int               `json:"status_code"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers"`
}

// runtime is one isolated goja VM bound to a module directory.
// It is not safe for concurrent use; Platform serializes calls.
type runtime struct {
	vm     *goja.Runtime
	client *http.Client
	log    logger.Logger
	// ctx is the context of the call in progress, used by request().
	ctx context.Context
}

func newRuntime(dir string, client *http.Client, l logger.Logger) (*runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	registry := require.NewRegistry(require.WithLoader(moduleLoader(dir)))
	registry.Enable(vm)

	r := &runtime{vm: vm, client: client, log: l, ctx: context.Background()}
	if err := vm.Set("request", r.request); err != nil {
		return nil, err
	}
	if err := vm.Set("log", r.print); err != nil {
		return nil, err
	}
	return r, nil
}

// moduleLoader confines require() to files below dir.
func moduleLoader(dir string) require.SourceLoader {
	root, _ := filepath.Abs(dir)
	return func(path string) ([]byte, error) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, require.ModuleFileDoesNotExistError
		}
		if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return nil, require.ModuleFileDoesNotExistError
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, require.ModuleFileDoesNotExistError
			}
			return nil, err
		}
		return data, nil
	}
}

func (r *runtime) print(call goja.FunctionCall) goja.Value {
	parts := make([]string, 0, len(call.Arguments))
	for _, v := range call.Arguments {
		parts = append(parts, fmt.Sprint(v.Export()))
	}
	r.log.Info("%s", strings.Join(parts, " "))
	return goja.Undefined()
}

// request performs an HTTP request for the script. Failures are thrown as
// JS errors.
func (r *runtime) request(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) != 1 {
		panic(r.vm.NewTypeError("request: expected one argument"))
	}
	var req Request
	if err := r.vm.ExportTo(call.Argument(0), &req); err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("request: %w", err)))
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(r.ctx, strings.ToUpper(req.Method), req.URL, strings.NewReader(req.Body))
	if err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("request: %w", err)))
	}
	httpReq.Header.Set("User-Agent", platform.DefaultUserAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := r.client.Do(httpReq)
	if err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("request: %w", err)))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("request: read body: %w", err)))
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return r.vm.ToValue(Response{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Headers:    headers,
	})
}

// call invokes the global function name with args, interrupting the VM
// when ctx is done.
func (r *runtime) call(ctx context.Context, name string, args ...interface{}) (goja.Value, error) {
	fn, ok := goja.AssertFunction(r.vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotDefined, name)
	}
	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = r.vm.ToValue(a)
	}

	r.ctx = ctx
	stop := context.AfterFunc(ctx, func() {
		r.vm.Interrupt(ctx.Err())
	})
	defer func() {
		stop()
		r.vm.ClearInterrupt()
		r.ctx = context.Background()
	}()
	return fn(goja.Undefined(), values...)
}
