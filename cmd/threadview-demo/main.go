// Command threadview-demo drives a conversation against an agent runtime from
// the terminal. It wires the HTTP transport, the optional Redis-backed event
// stream, the assistant resolver, and the artifact sync into a session, then
// reads user messages from stdin and prints the derived timeline after every
// change.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"goa.design/threadview/artifacts"
	"goa.design/threadview/assistant"
	"goa.design/threadview/remote"
	"goa.design/threadview/remote/httpclient"
	pulsestream "goa.design/threadview/remote/pulse"
	"goa.design/threadview/session"
	"goa.design/threadview/telemetry"
	"goa.design/threadview/timeline"
)

func main() {
	var (
		apiURLF = flag.String("api-url", "http://localhost:2024", "Agent runtime base URL")
		agentF  = flag.String("agent", "deepagent", "Assistant id or graph name")
		threadF = flag.String("thread", "", "Existing thread id (empty to start a new thread)")
		redisF  = flag.String("redis", "", "Redis address for the live event stream (empty disables streaming)")
		tokenF  = flag.String("token", "", "Bearer token sent with every request")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	logger := telemetry.NewClueLogger()

	// HTTP transport for submissions, thread metadata, agents and artifacts.
	var copts []httpclient.Option
	if *tokenF != "" {
		copts = append(copts, httpclient.WithBearerToken(*tokenF))
	}
	hc, err := httpclient.New(*apiURLF, copts...)
	if err != nil {
		log.Fatalf(ctx, err, "invalid api url %q", *apiURLF)
	}

	// Event stream. Without Redis the session still submits work; it just
	// cannot observe runtime progress.
	var streamer remote.Streamer = hc
	if *redisF != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisF})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf(ctx, err, "redis unreachable at %q", *redisF)
		}
		defer rdb.Close()
		pc, err := pulsestream.New(pulsestream.Options{Redis: rdb})
		if err != nil {
			log.Fatal(ctx, err)
		}
		streamer, err = pulsestream.NewStreamer(pulsestream.StreamerOptions{
			Client: pc,
			Logger: logger,
		})
		if err != nil {
			log.Fatal(ctx, err)
		}
	}

	resolver := assistant.New(hc, *agentF, assistant.WithLogger(logger))
	artsync := artifacts.New(hc, hc, artifacts.WithLogger(logger))

	render := make(chan struct{}, 1)
	sess, err := session.New(remote.Compose(hc, streamer), resolver, artsync,
		session.WithLogger(logger),
		session.WithThread(*threadF),
		session.WithOnChange(func() {
			select {
			case render <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		log.Fatal(ctx, err)
	}
	if err := sess.Start(ctx); err != nil {
		log.Fatal(ctx, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Errorf(ctx, err, "closing session")
		}
		artsync.Wait()
	}()

	desc := sess.Assistant()
	log.Print(ctx, log.KV{K: "assistant", V: desc.Name}, log.KV{K: "graph", V: desc.GraphName})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-render:
				printTimeline(sess)
			}
		}
	}()

	fmt.Println("Type a message and press enter. Commands: /continue, /resolve, /stop, /quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/quit":
			return
		case "/continue":
			if err := sess.ContinueRun(ctx); err != nil {
				log.Errorf(ctx, err, "continue")
			}
		case "/resolve":
			if err := sess.MarkResolved(ctx); err != nil {
				log.Errorf(ctx, err, "mark resolved")
			}
		case "/stop":
			if err := sess.Stop(ctx); err != nil {
				log.Errorf(ctx, err, "stop")
			}
		default:
			if res := sess.Interrupt(); len(res.Requests) > 0 || len(res.Reviews) > 0 {
				if err := sess.Resume(ctx, line); err != nil {
					log.Errorf(ctx, err, "resume")
				}
				continue
			}
			if err := sess.Send(ctx, line, nil); err != nil {
				log.Errorf(ctx, err, "send")
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Errorf(ctx, err, "reading stdin")
	}
}

func printTimeline(sess *session.Session) {
	for _, rec := range sess.Records() {
		if rec.ShowSeparator {
			fmt.Println(strings.Repeat("-", 40))
		}
		if text := rec.Turn.Text(); text != "" {
			fmt.Printf("%s: %s\n", rec.Turn.Role, text)
		}
		for _, call := range rec.ToolCalls {
			marker := " "
			switch call.Status {
			case timeline.StatusCompleted:
				marker = "x"
			case timeline.StatusInterrupted:
				marker = "!"
			}
			fmt.Printf("  [%s] %s\n", marker, call.Name)
		}
	}
	res := sess.Interrupt()
	for name := range res.Requests {
		fmt.Printf("* approval requested: %s (reply to resume)\n", name)
	}
}
