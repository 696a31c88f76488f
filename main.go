// Command colony orchestrates a colony of AI coding agents: one tmux pane
// and one git worktree per agent, file-based message and task queues, a
// git-backed shared-state store, and an optional relay to a remote control
// plane.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"golang.org/x/term"

	"colony/pkg/colony"
	"colony/pkg/config"
	"colony/pkg/logx"
	"colony/pkg/metrics"
	"colony/pkg/msgqueue"
	"colony/pkg/relay"
	"colony/pkg/state"
	"colony/pkg/taskqueue"
)

const usageText = `usage: colony [--dir <path>] <command> [args]

Commands:
  init                        write a starter colony.yml
  start [--no-attach]         create worktrees, launch all agents in tmux
  stop                        stop all agents and kill the session
  status                      show per-agent status
  attach                      attach to the running session
  destroy [--force]           stop everything and delete .colony/
  send <to> <message>         send a message (--from, --type)
  broadcast <message>         send a message to all agents
  messages <agent|all>        list messages
  task <subcommand>           file-based task queue (run "colony task" for help)
  state <subcommand>          shared state (run "colony state" for help)
  relay <run|set-token>       remote control plane connection
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("colony", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	dir := global.String("dir", "", "repository directory (default: current directory)")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return fmt.Errorf("no command given")
	}

	repoDir := *dir
	if repoDir == "" {
		var err error
		repoDir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	command, rest := global.Arg(0), global.Args()[1:]
	switch command {
	case "init":
		return cmdInit(repoDir)
	case "start":
		return cmdStart(repoDir, rest)
	case "stop":
		return cmdStop(repoDir)
	case "status":
		return cmdStatus(repoDir)
	case "attach":
		return cmdAttach(repoDir)
	case "destroy":
		return cmdDestroy(repoDir, rest)
	case "send":
		return cmdSend(repoDir, rest)
	case "broadcast":
		return cmdSend(repoDir, append([]string{"all"}, rest...))
	case "messages":
		return cmdMessages(repoDir, rest)
	case "task":
		return cmdTask(repoDir, rest)
	case "state":
		return cmdState(repoDir, rest)
	case "relay":
		return cmdRelay(repoDir, rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func controller(repoDir string) (*colony.Controller, error) {
	return colony.New(repoDir)
}

// serveMetrics exposes the Prometheus registry when COLONY_METRICS_ADDR is
// set. Long-running commands call this; one-shot commands do not bother.
func serveMetrics() {
	addr := os.Getenv("COLONY_METRICS_ADDR")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Default().Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logx.Warnf("metrics server stopped: %v", err)
		}
	}()
}

func cmdInit(repoDir string) error {
	if config.Exists(repoDir) {
		return fmt.Errorf("%s already exists", config.ConfigFileName)
	}

	cfg := &config.Config{
		Agents: []config.AgentConfig{
			{ID: "backend-1", Role: "Backend Engineer", Focus: "APIs and data"},
			{ID: "frontend-1", Role: "Frontend Engineer", Focus: "UI and UX"},
		},
		Telemetry: &config.TelemetryConfig{
			Enabled:     false,
			AnonymousID: uuid.NewString(),
		},
	}
	if err := config.Save(repoDir, cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s with %d example agents; edit it and run: colony start\n",
		config.ConfigFileName, len(cfg.Agents))
	return nil
}

func cmdStart(repoDir string, args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	noAttach := fs.Bool("no-attach", false, "do not attach to the session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := controller(repoDir)
	if err != nil {
		return err
	}
	defer c.Close()

	serveMetrics()
	return c.Start(context.Background(), colony.StartOptions{NoAttach: *noAttach})
}

func cmdStop(repoDir string) error {
	c, err := controller(repoDir)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Stop(context.Background()); err != nil {
		return err
	}
	fmt.Println("colony stopped")
	return nil
}

func cmdStatus(repoDir string) error {
	c, err := controller(repoDir)
	if err != nil {
		return err
	}
	defer c.Close()

	rows := c.Status(context.Background())
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tROLE\tMODEL\tSTATUS\tPID")
	for _, row := range rows {
		pid := ""
		if row.PID != 0 {
			pid = strconv.Itoa(row.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.ID, row.Role, row.Model, row.Status, pid)
	}
	return w.Flush()
}

func cmdAttach(repoDir string) error {
	c, err := controller(repoDir)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Attach()
}

func cmdDestroy(repoDir string, args []string) error {
	fs := flag.NewFlagSet("destroy", flag.ContinueOnError)
	force := fs.Bool("force", false, "skip confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := controller(repoDir)
	if err != nil {
		return err
	}
	defer c.Close()

	if !*force {
		fmt.Printf("this deletes %s (colony.yml is kept). Continue? [y/N] ", c.Root())
		if !confirm() {
			fmt.Println("aborted")
			return nil
		}
	}
	if err := c.Destroy(context.Background()); err != nil {
		return err
	}
	fmt.Println("colony destroyed")
	return nil
}

// confirm reads a y/N answer. With a terminal, a single keypress is
// enough; otherwise it falls back to line input so piped input works.
func confirm() bool {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, old)
			buf := make([]byte, 1)
			if _, err := os.Stdin.Read(buf); err == nil {
				fmt.Println(string(buf))
				return buf[0] == 'y' || buf[0] == 'Y'
			}
		}
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func cmdSend(repoDir string, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	from := fs.String("from", "operator", "sender id")
	msgType := fs.String("type", "info", "message type")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: colony send <to> <message>")
	}

	c, err := controller(repoDir)
	if err != nil {
		return err
	}
	defer c.Close()

	to := fs.Arg(0)
	content := strings.Join(fs.Args()[1:], " ")
	msg := msgqueue.NewMessage(*from, to, content, msgqueue.MessageType(*msgType))
	if err := c.Messages().Send(msg); err != nil {
		return err
	}
	fmt.Printf("sent %s to %s\n", msg.ID, to)
	return nil
}

func cmdMessages(repoDir string, args []string) error {
	fs := flag.NewFlagSet("messages", flag.ContinueOnError)
	follow := fs.Bool("follow", false, "keep watching for new messages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	target := "all"
	if fs.NArg() > 0 {
		target = fs.Arg(0)
	}

	c, err := controller(repoDir)
	if err != nil {
		return err
	}
	defer c.Close()

	var messages []*msgqueue.Message
	if target == "all" {
		messages, err = c.Messages().LoadAll()
	} else {
		messages, err = c.Messages().LoadForAgent(target)
	}
	if err != nil {
		return err
	}
	if len(messages) == 0 && !*follow {
		fmt.Println("no messages")
		return nil
	}
	for _, msg := range messages {
		printMessage(msg)
	}
	if !*follow {
		return nil
	}
	if target == "all" {
		return fmt.Errorf("--follow needs a specific agent id")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	incoming, err := c.Messages().Watch(ctx, target)
	if err != nil {
		return err
	}
	for msg := range incoming {
		printMessage(msg)
	}
	return nil
}

func printMessage(msg *msgqueue.Message) {
	fmt.Printf("[%s] %s -> %s (%s): %s\n",
		msg.Timestamp.Local().Format("15:04:05"), msg.From, msg.To, msg.MessageType, msg.Content)
}

const taskUsage = `usage: colony task <subcommand>

  create <title> [--assign <agent>] [--priority low|medium|high|critical] [--deps a,b]
  list
  claimable --agent <id>
  claim <id> --agent <id>
  start <id>
  complete <id>
  block <id> <reason>
  unblock <id>
  cancel <id>
  progress <id> <0-100>
  stats
`

func cmdTask(repoDir string, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, taskUsage)
		return fmt.Errorf("no task subcommand given")
	}

	c, err := controller(repoDir)
	if err != nil {
		return err
	}
	defer c.Close()
	queue := c.Tasks()

	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		fs := flag.NewFlagSet("task create", flag.ContinueOnError)
		assign := fs.String("assign", "", "assignee agent id, or auto")
		priority := fs.String("priority", "", "low|medium|high|critical")
		deps := fs.String("deps", "", "comma-separated dependency ids")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			return fmt.Errorf("usage: colony task create <title>")
		}
		task := &taskqueue.Task{
			Title:      strings.Join(fs.Args(), " "),
			AssignedTo: *assign,
			Priority:   taskqueue.Priority(*priority),
		}
		if *deps != "" {
			task.Dependencies = strings.Split(*deps, ",")
		}
		if err := queue.Create(task); err != nil {
			return err
		}
		fmt.Printf("created %s\n", task.ID)
		return nil

	case "list":
		tasks, err := queue.LoadAll()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tCLAIMED BY\tPROGRESS")
		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d%%\n",
				task.ID, task.Title, task.Status, task.Priority, task.ClaimedBy, task.Progress)
		}
		return w.Flush()

	case "claimable":
		fs := flag.NewFlagSet("task claimable", flag.ContinueOnError)
		agent := fs.String("agent", "", "agent id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *agent == "" {
			return fmt.Errorf("--agent is required")
		}
		tasks, err := queue.FindClaimable(*agent)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			fmt.Printf("%s  %s\n", task.ID, task.Title)
		}
		return nil

	case "claim":
		fs := flag.NewFlagSet("task claim", flag.ContinueOnError)
		agent := fs.String("agent", "", "agent id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() == 0 || *agent == "" {
			return fmt.Errorf("usage: colony task claim <id> --agent <id>")
		}
		task, err := queue.Claim(fs.Arg(0), *agent)
		if err != nil {
			return err
		}
		fmt.Printf("%s claimed by %s\n", task.ID, *agent)
		return nil

	case "start", "complete", "unblock", "cancel":
		if len(rest) == 0 {
			return fmt.Errorf("usage: colony task %s <id>", sub)
		}
		var task *taskqueue.Task
		switch sub {
		case "start":
			task, err = queue.Start(rest[0])
		case "complete":
			task, err = queue.Complete(rest[0])
		case "unblock":
			task, err = queue.Unblock(rest[0])
		case "cancel":
			task, err = queue.Cancel(rest[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", task.ID, task.Status)
		return nil

	case "block":
		if len(rest) < 2 {
			return fmt.Errorf("usage: colony task block <id> <reason>")
		}
		task, err := queue.Block(rest[0], []string{strings.Join(rest[1:], " ")})
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", task.ID, task.Status)
		return nil

	case "progress":
		if len(rest) < 2 {
			return fmt.Errorf("usage: colony task progress <id> <0-100>")
		}
		value, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("progress must be a number: %w", err)
		}
		task, err := queue.UpdateProgress(rest[0], value)
		if err != nil {
			return err
		}
		fmt.Printf("%s at %d%% (%s)\n", task.ID, task.Progress, task.Status)
		return nil

	case "stats":
		stats, err := queue.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("total %d, active %d, %.0f%% complete\n",
			stats.Total, stats.Active, stats.CompletionPercent)
		for _, status := range taskqueue.AllStatuses {
			if n := stats.ByStatus[status]; n > 0 {
				fmt.Printf("  %-12s %d\n", status, n)
			}
		}
		return nil

	default:
		fmt.Fprint(os.Stderr, taskUsage)
		return fmt.Errorf("unknown task subcommand %q", sub)
	}
}

const stateUsage = `usage: colony state <subcommand>

  task add <title> [--blockers a,b] [--assign <agent>]
  task list
  task ready
  task status <id> <ready|blocked|in_progress|completed|cancelled>
  workflow list
  memory add <context|learned|decision|note> <content> [--key <key>]
  memory list [type]
  sync | pull | push
`

func cmdState(repoDir string, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, stateUsage)
		return fmt.Errorf("no state subcommand given")
	}

	c, err := controller(repoDir)
	if err != nil {
		return err
	}
	defer c.Close()
	engine, err := c.SharedState()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sub, rest := args[0], args[1:]
	switch sub {
	case "task":
		return cmdStateTask(ctx, engine, rest)
	case "workflow":
		workflows, err := engine.ListWorkflows(ctx)
		if err != nil {
			return err
		}
		for _, wf := range workflows {
			fmt.Printf("%s  %s  %s\n", wf.ID, wf.Name, wf.Status)
		}
		return nil
	case "memory":
		return cmdStateMemory(ctx, engine, rest)
	case "sync":
		return engine.Sync(ctx)
	case "pull":
		return engine.Pull(ctx)
	case "push":
		return engine.Push(ctx)
	default:
		fmt.Fprint(os.Stderr, stateUsage)
		return fmt.Errorf("unknown state subcommand %q", sub)
	}
}

func cmdStateTask(ctx context.Context, engine *state.Engine, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: colony state task add|list|ready|status")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "add":
		fs := flag.NewFlagSet("state task add", flag.ContinueOnError)
		blockers := fs.String("blockers", "", "comma-separated blocker ids")
		assign := fs.String("assign", "", "assignee agent id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			return fmt.Errorf("usage: colony state task add <title>")
		}
		task := &state.Task{
			Title:    strings.Join(fs.Args(), " "),
			Assigned: *assign,
		}
		if *blockers != "" {
			task.Blockers = strings.Split(*blockers, ",")
		}
		if err := engine.AddTask(ctx, task); err != nil {
			return err
		}
		fmt.Printf("added %s\n", task.ID)
		return nil
	case "list", "ready":
		var tasks []state.Task
		var err error
		if sub == "ready" {
			tasks, err = engine.ReadyTasks(ctx)
		} else {
			tasks, err = engine.ListTasks(ctx)
		}
		if err != nil {
			return err
		}
		for _, task := range tasks {
			fmt.Printf("%s  %-12s %s\n", task.ID, task.Status, task.Title)
		}
		return nil
	case "status":
		if len(rest) < 2 {
			return fmt.Errorf("usage: colony state task status <id> <status>")
		}
		task, err := engine.UpdateTaskStatus(ctx, rest[0], state.TaskStatus(rest[1]))
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", task.ID, task.Status)
		return nil
	default:
		return fmt.Errorf("unknown state task subcommand %q", sub)
	}
}

func cmdStateMemory(ctx context.Context, engine *state.Engine, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: colony state memory add|list")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "add":
		fs := flag.NewFlagSet("state memory add", flag.ContinueOnError)
		key := fs.String("key", "", "optional key")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() < 2 {
			return fmt.Errorf("usage: colony state memory add <type> <content>")
		}
		entry := &state.MemoryEntry{
			Type:    state.MemoryType(fs.Arg(0)),
			Key:     *key,
			Content: strings.Join(fs.Args()[1:], " "),
		}
		return engine.AppendMemory(ctx, entry)
	case "list":
		filter := state.MemoryType("")
		if len(rest) > 0 {
			filter = state.MemoryType(rest[0])
		}
		entries, err := engine.ListMemory(ctx, filter)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			text := entry.Content
			if text == "" {
				text = entry.Value
			}
			fmt.Printf("[%s] %-8s %s %s\n",
				entry.Timestamp.Local().Format("2006-01-02 15:04"), entry.Type, entry.Key, text)
		}
		return nil
	default:
		return fmt.Errorf("unknown state memory subcommand %q", sub)
	}
}

func cmdRelay(repoDir string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: colony relay run|set-token")
	}
	switch args[0] {
	case "run":
		return cmdRelayRun(repoDir, args[1:])
	case "set-token":
		return cmdRelaySetToken(repoDir)
	default:
		return fmt.Errorf("unknown relay subcommand %q", args[0])
	}
}

func cmdRelayRun(repoDir string, args []string) error {
	fs := flag.NewFlagSet("relay run", flag.ContinueOnError)
	url := fs.String("url", "", "relay websocket URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *url == "" {
		return fmt.Errorf("--url is required")
	}

	c, err := controller(repoDir)
	if err != nil {
		return err
	}
	defer c.Close()

	token := os.Getenv(config.RelayTokenSecret)
	if token == "" && config.SecretsFileExists(repoDir) {
		password, err := promptPassword("secrets password: ")
		if err != nil {
			return err
		}
		token, err = config.GetSecret(repoDir, config.RelayTokenSecret, password)
		if err != nil {
			return err
		}
	}

	serveMetrics()
	client := relay.New(relay.Config{
		URL:       *url,
		ColonyID:  c.Session(),
		AuthToken: token,
	}, c)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	fmt.Printf("relaying %s to %s (ctrl-c to stop)\n", c.Session(), *url)
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func cmdRelaySetToken(repoDir string) error {
	password, err := promptPassword("secrets password: ")
	if err != nil {
		return err
	}
	token, err := promptPassword("relay token: ")
	if err != nil {
		return err
	}

	secrets := map[string]string{}
	if config.SecretsFileExists(repoDir) {
		existing, err := config.DecryptSecretsFile(repoDir, password)
		if err != nil {
			return err
		}
		secrets = existing
	}
	secrets[config.RelayTokenSecret] = token
	if err := config.EncryptSecretsFile(repoDir, password, secrets); err != nil {
		return err
	}
	fmt.Println("relay token stored")
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		defer fmt.Fprintln(os.Stderr)
		raw, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
