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
	"net/http"

	"github.com/michaelquigley/pfxlog"
)

// ChainConfig names the stage for each slot of the chain. Nil slots are skipped. The evaluation order is fixed
// and does not depend on field order or assignment order.
type ChainConfig struct {
	ConnectionLimiter Stage
	RateLimiter       Stage
	AllowList         Stage
	DenyList          Stage
	Firewall          Stage
}

type namedStage struct {
	name  string
	stage Stage
}

// Chain evaluates its stages in order: connection limiter, rate limiter, allow list, deny list, firewall.
type Chain struct {
	stages []namedStage
}

func NewChain(config ChainConfig) *Chain {
	chain := &Chain{}
	for _, candidate := range []namedStage{
		{"connectionLimiter", config.ConnectionLimiter},
		{"rateLimiter", config.RateLimiter},
		{"allowList", config.AllowList},
		{"denyList", config.DenyList},
		{"firewall", config.Firewall},
	} {
		if candidate.stage != nil {
			chain.stages = append(chain.stages, candidate)
		}
	}
	return chain
}

// Evaluate runs the stages until one rejects. Stages after a rejecting stage are not invoked.
func (chain *Chain) Evaluate(conn *ConnectionInfo, req *http.Request) Decision {
	for _, s := range chain.stages {
		decision := s.stage.Evaluate(conn, req)
		if decision.Admitted() {
			continue
		}

		pfxlog.Logger().
			WithField("stage", s.name).
			WithField("status", decision.Status()).
			WithField("remote", req.RemoteAddr).
			Debugf("request rejected: %v", decision.Rejection())
		return decision
	}
	return Admit()
}

// Names lists the configured stages in evaluation order.
func (chain *Chain) Names() []string {
	var result []string
	for _, s := range chain.stages {
		result = append(result, s.name)
	}
	return result
}
