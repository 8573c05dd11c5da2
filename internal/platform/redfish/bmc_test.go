// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package redfish

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// fakeBMC serves a single-chassis Redfish tree
type fakeBMC struct {
	server *httptest.Server

	mu            sync.Mutex
	watts         float64
	noSubsystem   bool
	noPower       bool
	noChassis     bool
	sessions      map[string]bool
	apiCallCounts map[string]int
}

func newFakeBMC(watts float64) *fakeBMC {
	b := &fakeBMC{
		watts:         watts,
		sessions:      map[string]bool{},
		apiCallCounts: map[string]int{},
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.handler))
	return b
}

func (b *fakeBMC) URL() string { return b.server.URL }

func (b *fakeBMC) Close() { b.server.Close() }

func (b *fakeBMC) setWatts(w float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watts = w
}

func (b *fakeBMC) calls(api string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.apiCallCounts[api]
}

func (b *fakeBMC) activeSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *fakeBMC) handler(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("OData-Version", "4.0")

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/redfish/v1":
		b.write(w, map[string]any{
			"@odata.id":      "/redfish/v1/",
			"@odata.type":    "#ServiceRoot.v1_5_0.ServiceRoot",
			"Id":             "RootService",
			"RedfishVersion": "1.6.1",
			"Chassis":        map[string]any{"@odata.id": "/redfish/v1/Chassis"},
			"SessionService": map[string]any{"@odata.id": "/redfish/v1/SessionService"},
			"Links": map[string]any{
				"Sessions": map[string]any{"@odata.id": "/redfish/v1/SessionService/Sessions"},
			},
		})
	case path == "/redfish/v1/SessionService/Sessions" && r.Method == http.MethodPost:
		id := fmt.Sprintf("s%d", len(b.sessions)+1)
		b.sessions[id] = true
		w.Header().Set("X-Auth-Token", "token-"+id)
		w.Header().Set("Location", "/redfish/v1/SessionService/Sessions/"+id)
		w.WriteHeader(http.StatusCreated)
		b.write(w, map[string]any{
			"@odata.id": "/redfish/v1/SessionService/Sessions/" + id,
			"Id":        id,
		})
	case strings.HasPrefix(path, "/redfish/v1/SessionService/Sessions/") && r.Method == http.MethodDelete:
		delete(b.sessions, strings.TrimPrefix(path, "/redfish/v1/SessionService/Sessions/"))
		w.WriteHeader(http.StatusNoContent)
	case path == "/redfish/v1/Chassis":
		if b.noChassis {
			http.NotFound(w, r)
			return
		}
		b.write(w, map[string]any{
			"@odata.id":           "/redfish/v1/Chassis",
			"Members@odata.count": 1,
			"Members":             []map[string]any{{"@odata.id": "/redfish/v1/Chassis/1"}},
		})
	case path == "/redfish/v1/Chassis/1":
		b.write(w, map[string]any{
			"@odata.id":      "/redfish/v1/Chassis/1",
			"@odata.type":    "#Chassis.v1_10_0.Chassis",
			"Id":             "1",
			"Name":           "Computer System Chassis",
			"Power":          map[string]any{"@odata.id": "/redfish/v1/Chassis/1/Power"},
			"PowerSubsystem": map[string]any{"@odata.id": "/redfish/v1/Chassis/1/PowerSubsystem"},
		})
	case path == "/redfish/v1/Chassis/1/PowerSubsystem":
		if b.noSubsystem {
			http.NotFound(w, r)
			return
		}
		b.write(w, map[string]any{
			"@odata.id":     "/redfish/v1/Chassis/1/PowerSubsystem",
			"Id":            "PowerSubsystem",
			"PowerSupplies": map[string]any{"@odata.id": "/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies"},
		})
	case path == "/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies":
		b.apiCallCounts["PowerSubsystem"]++
		if b.noSubsystem {
			http.NotFound(w, r)
			return
		}
		b.write(w, map[string]any{
			"@odata.id":           "/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies",
			"Members@odata.count": 2,
			"Members": []map[string]any{
				{"@odata.id": "/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/PS1"},
				{"@odata.id": "/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/PS2"},
			},
		})
	case strings.HasPrefix(path, "/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/"):
		id := strings.TrimPrefix(path, "/redfish/v1/Chassis/1/PowerSubsystem/PowerSupplies/")
		b.write(w, map[string]any{
			"@odata.id":        path,
			"Id":               id,
			"Name":             "Power Supply " + id,
			"PowerOutputWatts": b.watts / 2,
		})
	case path == "/redfish/v1/Chassis/1/Power":
		b.apiCallCounts["Power"]++
		if b.noPower {
			http.NotFound(w, r)
			return
		}
		b.write(w, map[string]any{
			"@odata.id": "/redfish/v1/Chassis/1/Power",
			"Id":        "Power",
			"PowerControl": []map[string]any{{
				"@odata.id":          "/redfish/v1/Chassis/1/Power#/PowerControl/0",
				"MemberId":           "0",
				"Name":               "System Power Control",
				"PowerConsumedWatts": b.watts,
			}},
		})
	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBMC) write(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
