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

package xrpc

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/xrpc-go/xrpc/admission"
)

// ServiceConfig carries per service settings, matched by name against the services routes are registered under.
// A service without a rate limit uses the server wide one.
type ServiceConfig struct {
	Name      string
	RateLimit *admission.RateLimit
}

// Parse the configuration map for a ServiceConfig.
func (service *ServiceConfig) Parse(serviceMap map[interface{}]interface{}) error {
	if nameInterface, ok := serviceMap["name"]; ok {
		if name, ok := nameInterface.(string); ok {
			service.Name = name
		} else {
			return errors.New("name must be a string")
		}
	} else {
		return errors.New("name is required")
	}

	if rateInterface, ok := serviceMap["rateLimit"]; ok {
		rateLimit, err := parseRateLimit(rateInterface)
		if err != nil {
			return errors.Wrap(err, "error parsing rateLimit")
		}
		service.RateLimit = rateLimit
	} //no else optional

	return nil
}

// Validate this configuration object.
func (service *ServiceConfig) Validate() error {
	if service.Name == "" {
		return errors.New("name must be specified")
	}

	if service.RateLimit != nil && (service.RateLimit.Rate < 0 || service.RateLimit.Burst < 0) {
		return errors.New("rateLimit rate and burst must not be negative")
	}

	return nil
}

// FirewallRuleConfig declares one firewall rule. Exactly one of Expression or Header is set: an expression rule
// rejects when the expression is true, a header rule rejects when the header is present (and matches Values, if
// any). Status defaults to 403.
type FirewallRuleConfig struct {
	Expression string
	Header     string
	Values     []string
	Status     int
	Code       string
}

// Parse the configuration map for a FirewallRuleConfig.
func (rule *FirewallRuleConfig) Parse(ruleMap map[interface{}]interface{}) error {
	if err := parseString(ruleMap, "expression", &rule.Expression); err != nil {
		return err
	}

	if err := parseString(ruleMap, "header", &rule.Header); err != nil {
		return err
	}

	var err error
	if rule.Values, err = parseStringList(ruleMap, "values", nil); err != nil {
		return err
	}

	if statusInterface, ok := ruleMap["status"]; ok {
		status, err := toInt64(statusInterface)
		if err != nil {
			return errors.Wrap(err, "could not use value for status")
		}
		rule.Status = int(status)
	}

	return parseString(ruleMap, "code", &rule.Code)
}

// Validate this configuration object.
func (rule *FirewallRuleConfig) Validate() error {
	if (rule.Expression == "") == (rule.Header == "") {
		return errors.New("exactly one of expression or header must be specified")
	}

	if rule.Status != 0 && (rule.Status < http.StatusBadRequest || rule.Status > 599) {
		return errors.Errorf("status [%d] must be a 4xx or 5xx code", rule.Status)
	}

	if rule.Expression != "" {
		if _, err := rule.Build(); err != nil {
			return err
		}
	}

	return nil
}

// Build creates the admission.Rule this configuration describes.
func (rule *FirewallRuleConfig) Build() (admission.Rule, error) {
	if rule.Expression != "" {
		return admission.NewExpressionRule(rule.Expression, rule.Status, rule.Code)
	}

	if rule.Header == "" {
		return nil, errors.New("firewall rule has neither an expression nor a header")
	}

	return admission.HeaderRule{
		Header: rule.Header,
		Values: rule.Values,
		Status: rule.Status,
		Code:   rule.Code,
	}, nil
}
