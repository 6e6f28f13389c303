// Package pool tracks upstream bot accounts and their live concurrency.
// It owns the only mutable admission state in the gateway: tasks are
// admitted against an account's slot budget and released exactly once
// when they reach a terminal state or time out.
package pool

import (
	"fmt"
	"sort"
	"sync"

	"mjgateway/internal/domain"
)

type accountState struct {
	account domain.Account
	running int
	enabled bool
}

// AccountPool selects the account a submitted task runs on. Admission
// scans accounts in ascending instance-id order and takes the first
// with spare capacity, so selection is deterministic for a given load.
type AccountPool struct {
	mu       sync.Mutex
	accounts []*accountState
	byID     map[string]*accountState

	// admitted maps a task id to the account whose slot it holds.
	// Entries exist only between Admit and Release, so a release for a
	// task that was never admitted (or already released) is a no-op
	// and can never under-count another task's slot.
	admitted map[string]string
}

// NewAccountPool builds a pool from the configured accounts.
func NewAccountPool(accounts []domain.Account) *AccountPool {
	p := &AccountPool{
		byID:     make(map[string]*accountState, len(accounts)),
		admitted: map[string]string{},
	}
	for _, a := range accounts {
		st := &accountState{account: a, enabled: a.Enabled}
		p.accounts = append(p.accounts, st)
		p.byID[a.InstanceID] = st
	}
	sort.Slice(p.accounts, func(i, j int) bool {
		return p.accounts[i].account.InstanceID < p.accounts[j].account.InstanceID
	})
	return p
}

// Admit reserves a slot on the first enabled account with spare
// capacity and records the account on the task. A task that already
// carries an instance id is pinned to that account: upscale and
// variation commands reference a message that only exists on the
// account that produced it. It returns ErrNoAccount when the pool is
// empty or fully disabled, and ErrDispatchBusy when every account is
// at its limit; the caller decides whether to retry, the pool never
// queues.
func (p *AccountPool) Admit(task *domain.Task) (domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if want := task.PropertyString(domain.PropertyInstanceID); want != "" {
		st, ok := p.byID[want]
		if !ok || !st.enabled {
			return domain.Account{}, domain.ErrNoAccount
		}
		if st.running >= st.account.MaxConcurrency {
			return domain.Account{}, domain.ErrDispatchBusy
		}
		st.running++
		p.admitted[task.ID] = st.account.InstanceID
		return st.account, nil
	}
	enabled := 0
	for _, st := range p.accounts {
		if !st.enabled {
			continue
		}
		enabled++
		if st.running < st.account.MaxConcurrency {
			st.running++
			p.admitted[task.ID] = st.account.InstanceID
			task.SetProperty(domain.PropertyInstanceID, st.account.InstanceID)
			return st.account, nil
		}
	}
	if enabled == 0 {
		return domain.Account{}, domain.ErrNoAccount
	}
	return domain.Account{}, domain.ErrDispatchBusy
}

// Release frees the slot the task was admitted onto. It is safe to
// call from racing paths (terminal event, dispatch timeout) and for
// tasks that were never admitted: only the first release of an
// admitted task decrements, so the count can never go under.
func (p *AccountPool) Release(task *domain.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	instanceID, ok := p.admitted[task.ID]
	if !ok {
		return
	}
	delete(p.admitted, task.ID)
	if st, ok := p.byID[instanceID]; ok && st.running > 0 {
		st.running--
	}
}

// Disable stops future admission on the account. In-flight tasks keep
// their slots until released.
func (p *AccountPool) Disable(instanceID string) error {
	return p.setEnabled(instanceID, false)
}

// Enable re-opens the account for admission.
func (p *AccountPool) Enable(instanceID string) error {
	return p.setEnabled(instanceID, true)
}

func (p *AccountPool) setEnabled(instanceID string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.byID[instanceID]
	if !ok {
		return fmt.Errorf("account %s: %w", instanceID, domain.ErrNotFound)
	}
	st.enabled = enabled
	return nil
}

// Running returns the live counter for one account, for tests and the
// status endpoint.
func (p *AccountPool) Running(instanceID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.byID[instanceID]; ok {
		return st.running
	}
	return 0
}

// Status is one account's admission snapshot.
type Status struct {
	InstanceID     string `json:"instanceId"`
	Running        int    `json:"running"`
	MaxConcurrency int    `json:"maxConcurrency"`
	Enabled        bool   `json:"enabled"`
}

// Snapshot reports every account's admission state in scan order.
func (p *AccountPool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.accounts))
	for _, st := range p.accounts {
		out = append(out, Status{
			InstanceID:     st.account.InstanceID,
			Running:        st.running,
			MaxConcurrency: st.account.MaxConcurrency,
			Enabled:        st.enabled,
		})
	}
	return out
}

// Account returns the configured account for an instance id.
func (p *AccountPool) Account(instanceID string) (domain.Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.byID[instanceID]
	if !ok {
		return domain.Account{}, false
	}
	return st.account, true
}
