package cmd

import (
	"fmt"

	"github.com/telaman/tsync/internal/netmon"
	"github.com/telaman/tsync/internal/remote"
	"github.com/telaman/tsync/internal/store"
	"github.com/telaman/tsync/internal/syncconfig"
	"github.com/telaman/tsync/internal/syncer"
	"github.com/telaman/tsync/internal/tasks"
)

// cliService bundles the pieces a one-shot command needs. Connectivity
// starts optimistic; the first failed request flips it and routes the
// mutation into the queue.
type cliService struct {
	Store   *store.Store
	Client  *remote.Client
	Monitor *netmon.Monitor
	Proc    *syncer.Processor
	Tasks   *tasks.Service
}

func openService() (*cliService, error) {
	dir, err := syncconfig.ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("config dir: %w", err)
	}

	st, err := store.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	userID := syncconfig.GetUserID()
	client := remote.New(syncconfig.GetServerURL(), syncconfig.GetToken())
	monitor := netmon.New(true)
	proc := syncer.New(st, client, userID)
	svc := tasks.New(st, client, monitor, proc, userID)

	return &cliService{
		Store:   st,
		Client:  client,
		Monitor: monitor,
		Proc:    proc,
		Tasks:   svc,
	}, nil
}

func (s *cliService) Close() error {
	return s.Store.Close()
}
