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
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

// ParsePrefixes parses CIDR blocks and single addresses. A single address becomes a full length prefix.
func ParsePrefixes(entries []string) ([]netip.Prefix, error) {
	var result []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid ip range [%s]", entry)
			}
			result = append(result, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid ip address [%s]", entry)
		}
		addr = addr.Unmap()
		result = append(result, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return result, nil
}

// ipSet holds prefixes that can be replaced while requests are being evaluated.
type ipSet struct {
	prefixes atomic.Pointer[[]netip.Prefix]
}

func (set *ipSet) replace(entries []string) error {
	prefixes, err := ParsePrefixes(entries)
	if err != nil {
		return err
	}
	set.prefixes.Store(&prefixes)
	return nil
}

func (set *ipSet) empty() bool {
	prefixes := set.prefixes.Load()
	return prefixes == nil || len(*prefixes) == 0
}

func (set *ipSet) contains(addr netip.Addr) bool {
	prefixes := set.prefixes.Load()
	if prefixes == nil {
		return false
	}
	for _, prefix := range *prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowList rejects addresses outside its entries with 403. An empty list allows everyone.
type AllowList struct {
	set ipSet
}

var _ Stage = (*AllowList)(nil)

func NewAllowList(entries []string) (*AllowList, error) {
	list := &AllowList{}
	if err := list.Replace(entries); err != nil {
		return nil, err
	}
	return list, nil
}

// Replace swaps the entries atomically. On error the previous entries stay in effect.
func (list *AllowList) Replace(entries []string) error {
	return list.set.replace(entries)
}

func (list *AllowList) Contains(addr netip.Addr) bool {
	return list.set.contains(addr.Unmap())
}

func (list *AllowList) Evaluate(conn *ConnectionInfo, req *http.Request) Decision {
	if list.set.empty() {
		return Admit()
	}

	if addr, ok := RemoteAddr(conn, req); ok && list.set.contains(addr) {
		return Admit()
	}
	return Reject(xrpcerr.Forbidden("address not allowed"))
}

// DenyList rejects addresses matching its entries with 403.
type DenyList struct {
	set ipSet
}

var _ Stage = (*DenyList)(nil)

func NewDenyList(entries []string) (*DenyList, error) {
	list := &DenyList{}
	if err := list.Replace(entries); err != nil {
		return nil, err
	}
	return list, nil
}

// Replace swaps the entries atomically. On error the previous entries stay in effect.
func (list *DenyList) Replace(entries []string) error {
	return list.set.replace(entries)
}

func (list *DenyList) Contains(addr netip.Addr) bool {
	return list.set.contains(addr.Unmap())
}

func (list *DenyList) Evaluate(conn *ConnectionInfo, req *http.Request) Decision {
	if addr, ok := RemoteAddr(conn, req); ok && list.set.contains(addr) {
		return Reject(xrpcerr.Forbidden("address denied"))
	}
	return Admit()
}
