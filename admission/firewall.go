/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package admission

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

const (
	expressionCostLimit     = 10000
	expressionInterruptFreq = 100
	expressionEvalTimeout   = 50 * time.Millisecond
)

// Rule is a single firewall check. Check returns nil to let the request through.
type Rule interface {
	Name() string
	Check(conn *ConnectionInfo, req *http.Request) *xrpcerr.Error
}

// Firewall applies its rules in order and rejects on the first rule that triggers.
type Firewall struct {
	rules []Rule
}

var _ Stage = (*Firewall)(nil)

func NewFirewall(rules ...Rule) *Firewall {
	return &Firewall{rules: rules}
}

func (firewall *Firewall) Rules() []Rule {
	return append([]Rule(nil), firewall.rules...)
}

func (firewall *Firewall) Evaluate(conn *ConnectionInfo, req *http.Request) Decision {
	for _, rule := range firewall.rules {
		if err := rule.Check(conn, req); err != nil {
			return Reject(err)
		}
	}
	return Admit()
}

// RejectionFor builds an error carrying status. Well known statuses keep their own kind.
func RejectionFor(status int, code, message string) *xrpcerr.Error {
	var err *xrpcerr.Error
	switch status {
	case http.StatusBadRequest:
		err = xrpcerr.BadRequest(message)
	case http.StatusUnauthorized:
		err = xrpcerr.Unauthorized(message)
	case http.StatusNotFound:
		err = xrpcerr.NotFound(message)
	case http.StatusRequestEntityTooLarge:
		err = xrpcerr.PayloadTooLarge(message)
	case http.StatusTooManyRequests:
		err = xrpcerr.TooManyRequests(message)
	case http.StatusServiceUnavailable:
		err = xrpcerr.ServiceUnavailable(message)
	default:
		err = xrpcerr.Forbidden(message)
		if status != 0 {
			err.WithStatus(status)
		}
	}

	if code != "" {
		err.WithCode(code)
	}
	return err
}

// MaxPayloadRule rejects requests whose declared Content-Length exceeds Limit.
type MaxPayloadRule struct {
	Limit int64
}

func (rule MaxPayloadRule) Name() string {
	return "maxPayload"
}

func (rule MaxPayloadRule) Check(_ *ConnectionInfo, req *http.Request) *xrpcerr.Error {
	if rule.Limit > 0 && req.ContentLength > rule.Limit {
		return xrpcerr.Newf(xrpcerr.KindPayloadTooLarge, "payload of %d bytes exceeds limit of %d bytes", req.ContentLength, rule.Limit)
	}
	return nil
}

// HeaderRule rejects requests carrying Header. With Values set, only matching values (case-insensitive) trigger.
type HeaderRule struct {
	Header string
	Values []string
	Status int
	Code   string
}

func (rule HeaderRule) Name() string {
	return "header:" + http.CanonicalHeaderKey(rule.Header)
}

func (rule HeaderRule) Check(_ *ConnectionInfo, req *http.Request) *xrpcerr.Error {
	values := req.Header.Values(rule.Header)
	if len(values) == 0 {
		return nil
	}

	triggered := len(rule.Values) == 0
	for _, value := range values {
		for _, candidate := range rule.Values {
			if strings.EqualFold(strings.TrimSpace(value), candidate) {
				triggered = true
			}
		}
	}

	if !triggered {
		return nil
	}
	return RejectionFor(rule.Status, rule.Code, "request rejected by header rule on "+http.CanonicalHeaderKey(rule.Header))
}

var requestEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("remote_ip", cel.StringType),
		cel.Variable("content_length", cel.IntType),
		cel.Variable("protocol", cel.StringType),
	)
})

// ExpressionRule rejects requests for which a CEL expression evaluates to true. Available variables: method, path,
// headers (lower-cased names, first value), remote_ip, content_length and protocol.
type ExpressionRule struct {
	expression string
	program    cel.Program
	status     int
	code       string
}

func NewExpressionRule(expression string, status int, code string) (*ExpressionRule, error) {
	env, err := requestEnv()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create firewall expression environment")
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid firewall expression [%s]", expression)
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("firewall expression [%s] must evaluate to bool, not %v", expression, ast.OutputType())
	}

	program, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(expressionCostLimit),
		cel.InterruptCheckFrequency(expressionInterruptFreq),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to build firewall expression [%s]", expression)
	}

	if status == 0 {
		status = http.StatusForbidden
	}

	return &ExpressionRule{
		expression: expression,
		program:    program,
		status:     status,
		code:       code,
	}, nil
}

func (rule *ExpressionRule) Name() string {
	return "expression:" + rule.expression
}

// Check evaluates the expression. Evaluation failures reject the request.
func (rule *ExpressionRule) Check(conn *ConnectionInfo, req *http.Request) *xrpcerr.Error {
	ctx, cancel := context.WithTimeout(req.Context(), expressionEvalTimeout)
	defer cancel()

	result, _, err := rule.program.ContextEval(ctx, activation(conn, req))
	if err != nil {
		pfxlog.Logger().WithError(err).WithField("expression", rule.expression).Warn("firewall expression failed, rejecting request")
		return RejectionFor(rule.status, rule.code, "request rejected by firewall")
	}

	if triggered, ok := result.Value().(bool); ok && triggered {
		return RejectionFor(rule.status, rule.code, "request rejected by firewall")
	}
	return nil
}

func activation(conn *ConnectionInfo, req *http.Request) map[string]interface{} {
	headers := make(map[string]string, len(req.Header))
	for name, values := range req.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}

	remoteIP := ""
	if addr, ok := RemoteAddr(conn, req); ok {
		remoteIP = addr.String()
	}

	protocol := req.Proto
	if conn != nil && conn.Protocol != "" {
		protocol = conn.Protocol
	}

	return map[string]interface{}{
		"method":         req.Method,
		"path":           req.URL.Path,
		"headers":        headers,
		"remote_ip":      remoteIP,
		"content_length": req.ContentLength,
		"protocol":       protocol,
	}
}
