// Package service implements the chat core: account directory, chat
// directory, message store, read tracker and the moderation facade. It holds
// every business rule; engines behind storage.Store only persist.
package service

import (
	"time"

	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/storage/memory"
)

// Options tunes limits and the storage retry discipline.
type Options struct {
	StorageTimeout  time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	GroupMemberCap  int
	GlobalMemberCap int
	MaxPageSize     int
	DirectLockTTL   time.Duration
	// SummaryWorkers bounds the per-chat fan-out in ListForUser.
	SummaryWorkers int
}

func DefaultOptions() Options {
	return Options{
		StorageTimeout:  3 * time.Second,
		RetryAttempts:   3,
		RetryBackoff:    50 * time.Millisecond,
		GroupMemberCap:  256,
		GlobalMemberCap: 100000,
		MaxPageSize:     100,
		DirectLockTTL:   5 * time.Second,
		SummaryWorkers:  8,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = d.StorageTimeout
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = d.RetryAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = d.RetryBackoff
	}
	if o.GroupMemberCap <= 0 {
		o.GroupMemberCap = d.GroupMemberCap
	}
	if o.GlobalMemberCap <= 0 {
		o.GlobalMemberCap = d.GlobalMemberCap
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = d.MaxPageSize
	}
	if o.DirectLockTTL <= 0 {
		o.DirectLockTTL = d.DirectLockTTL
	}
	if o.SummaryWorkers <= 0 {
		o.SummaryWorkers = d.SummaryWorkers
	}
	return o
}

// Core bundles the components over one store.
type Core struct {
	Accounts   *Accounts
	Directory  *Directory
	Messages   *Messages
	Reads      *Reads
	Moderation *Moderation
}

// New wires the components. A nil locker falls back to an in-process one;
// the unique pair key in the store guards direct chats either way.
func New(store storage.Store, locker storage.PairLocker, opts Options) *Core {
	opts = opts.withDefaults()
	if locker == nil {
		locker = memory.NewLocker()
	}
	rt := retrier{timeout: opts.StorageTimeout, attempts: opts.RetryAttempts, backoff: opts.RetryBackoff}
	accounts := &Accounts{store: store, rt: rt}
	dir := &Directory{store: store, locker: locker, accounts: accounts, rt: rt, opts: opts}
	msgs := &Messages{store: store, accounts: accounts, rt: rt, opts: opts}
	reads := &Reads{store: store, accounts: accounts, rt: rt}
	return &Core{
		Accounts:   accounts,
		Directory:  dir,
		Messages:   msgs,
		Reads:      reads,
		Moderation: &Moderation{store: store, accounts: accounts, messages: msgs, rt: rt},
	}
}
