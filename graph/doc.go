// Package graph implements a persistent, branchable state graph engine.
//
// A StateGraph is a set of named nodes wired by fixed and conditional edges.
// Each node is a function from the current state (a map[string]any) to a
// partial update, merged back through per-field reducers. Compiling a graph
// binds it to a snapshot store; every node execution appends one immutable
// snapshot, so a thread's full history stays inspectable and any historical
// snapshot can be resumed, forking the thread into a sibling branch without
// touching existing history.
//
// Basic usage:
//
//	g := graph.NewStateGraph()
//	g.AddNode("plan", plan)
//	g.AddNode("act", act)
//	g.AddEdge("plan", "act")
//	g.AddConditionalEdge("act", decide, map[string]string{
//		"again": "plan",
//		"done":  graph.END,
//	})
//	g.SetEntryPoint("plan")
//
//	runnable, err := g.Compile(memory.NewMemoryStore())
//	if err != nil {
//		// err lists every structural problem at once
//	}
//	final, err := runnable.Invoke(ctx, "thread-1", graph.State{"count": 0})
package graph
