// Command toolmem is a small driver that exercises the episodic memory
// pipeline end to end: add a read episode, preflight a duplicate, add a
// write that invalidates it, and render the dashboard.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/toolmem/toolmem/config"
	"github.com/toolmem/toolmem/memory/coherence"
	"github.com/toolmem/toolmem/memory/dashboard"
	"github.com/toolmem/toolmem/memory/episode"
	"github.com/toolmem/toolmem/memory/fingerprint"
	"github.com/toolmem/toolmem/memory/graph/inmem"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	fmt.Println("graph backend:", cfg.Graph.Backend)

	backend := inmem.New()
	store := episode.NewStore(backend, nil, nil)
	engine := coherence.New(store, nil, nil, nil, nil)

	const workflowID = "demo-workflow"

	readAction := fingerprint.Action{"file_path": "app/database.py"}

	// The first episode arrives as raw JSON, the shape an external caller
	// submits, and is validated against the Episode input schema before
	// it is decoded.
	rawEpisode := []byte(`{
		"timestamp": "` + time.Now().UTC().Format(time.RFC3339) + `",
		"action_type": "read_file_contents",
		"action": {"file_path": "app/database.py"},
		"result": {"status": "success", "output": "DATABASE_URL = ..."}
	}`)
	ep, err := engine.AddEpisodeFromJSON(ctx, workflowID, rawEpisode)
	if err != nil {
		panic(err)
	}
	fmt.Println("added episode:", ep.ToolID)

	hit, err := engine.Preflight(ctx, workflowID, "read_file_contents", readAction)
	if err != nil {
		panic(err)
	}
	fmt.Println("preflight on duplicate read:", hit.Rendered)

	if _, err := engine.AddEpisode(ctx, workflowID, episode.Input{
		ActionType: "create_file",
		Action:     fingerprint.Action{"file_path": "app/database.py"},
		Result:     episode.Result{Status: "success"},
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		panic(err)
	}

	hit, err = engine.Preflight(ctx, workflowID, "read_file_contents", readAction)
	if err != nil {
		panic(err)
	}
	if hit == nil {
		fmt.Println("preflight after write: miss, as expected")
	} else {
		fmt.Println("preflight after write unexpectedly hit:", hit.Rendered)
	}

	out, err := dashboard.Render(ctx, store, workflowID, nil, nil)
	if err != nil {
		panic(err)
	}
	fmt.Println()
	fmt.Println(out)
}
