// achadosctl drives a running session daemon over its unix socket.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/achadosufc/achados/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(session.SocketPath(sessionName), 30*time.Second)

	var err error
	switch args[0] {
	case "status":
		err = cmdStatus(c, *jsonFlag)
	case "login":
		err = cmdLogin(c, args[1:])
	case "logout":
		err = c.post("/v1/logout", nil, nil)
	case "find":
		err = cmdFind(c, args[1:], *jsonFlag)
	case "conversations":
		err = cmdConversations(c, *jsonFlag)
	case "messages":
		err = cmdMessages(c, args[1:], *jsonFlag)
	case "send":
		err = cmdSend(c, args[1:])
	case "items":
		err = cmdItems(c, args[1:], *jsonFlag)
	case "report":
		err = cmdReport(c, args[1:])
	case "reports":
		err = cmdReports(c, *jsonFlag)
	case "discard":
		err = cmdDiscard(c, args[1:])
	case "watch":
		err = cmdWatch(c, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: achadosctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon status")
	fmt.Fprintln(os.Stderr, "  login <email> <password>      Log in to the backend")
	fmt.Fprintln(os.Stderr, "  logout                        Log out")
	fmt.Fprintln(os.Stderr, "  find <email>                  Look a user up by email")
	fmt.Fprintln(os.Stderr, "  conversations                 List conversations")
	fmt.Fprintln(os.Stderr, "  messages <userId>             Show a chat thread")
	fmt.Fprintln(os.Stderr, "  send <userId> <text>          Send a message")
	fmt.Fprintln(os.Stderr, "  items [--refresh] [--user N]  List lost-and-found items")
	fmt.Fprintln(os.Stderr, "  report --title T --location L [--found] [--description D] <photo>")
	fmt.Fprintln(os.Stderr, "                                Queue a report for upload")
	fmt.Fprintln(os.Stderr, "  reports                       Show the upload queue")
	fmt.Fprintln(os.Stderr, "  discard <jobId>               Drop a queued or failed report")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                Stream daemon events")
}
