package main

import (
	"flag"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

type statusResponse struct {
	State    string `json:"state"`
	LoggedIn bool   `json:"loggedIn"`
	Username string `json:"username"`
	UserID   int64  `json:"userId"`
}

func cmdStatus(c *client, jsonOut bool) error {
	var resp statusResponse
	if err := c.get("/v1/status", &resp); err != nil {
		return err
	}
	if jsonOut {
		return outputJSON(resp)
	}
	fmt.Printf("State:     %s\n", resp.State)
	if resp.LoggedIn {
		fmt.Printf("Logged in: %s (#%d)\n", resp.Username, resp.UserID)
	} else {
		fmt.Println("Logged in: no")
	}
	return nil
}

func cmdLogin(c *client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: achadosctl login <email> <password>")
	}
	var user struct {
		Username string `json:"username"`
	}
	body := map[string]string{"email": args[0], "password": args[1]}
	if err := c.post("/v1/login", body, &user); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", user.Username)
	return nil
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
}

func cmdFind(c *client, args []string, jsonOut bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: achadosctl find <email>")
	}
	var u userResponse
	if err := c.get("/v1/users/search?email="+url.QueryEscape(args[0]), &u); err != nil {
		return err
	}
	if jsonOut {
		return outputJSON(u)
	}
	fmt.Printf("#%d %s (%s %s) %s\n", u.ID, u.Username, u.Name, u.Surname, u.Email)
	return nil
}

type conversationResponse struct {
	CounterpartID       int64  `json:"counterpartId"`
	CounterpartUsername string `json:"counterpartUsername"`
	CounterpartName     string `json:"counterpartName"`
	LastMessageText     string `json:"lastMessageText"`
	LastMessageAt       int64  `json:"lastMessageAt"`
	UnreadCount         int    `json:"unreadCount"`
}

func cmdConversations(c *client, jsonOut bool) error {
	var convs []conversationResponse
	if err := c.get("/v1/conversations", &convs); err != nil {
		return err
	}
	if jsonOut {
		return outputJSON(convs)
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, cv := range convs {
		unread := ""
		if cv.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d unread]", cv.UnreadCount)
		}
		when := time.UnixMilli(cv.LastMessageAt).Format("02/01 15:04")
		fmt.Printf("#%-6d %-20s %s  %s%s\n", cv.CounterpartID, cv.CounterpartUsername, when, cv.LastMessageText, unread)
	}
	return nil
}

type messageResponse struct {
	ID          int64  `json:"id"`
	Text        string `json:"text"`
	CreatedAt   int64  `json:"createdAt"`
	SenderID    int64  `json:"senderId"`
	RecipientID int64  `json:"recipientId"`
	Pending     bool   `json:"pending"`
}

func cmdMessages(c *client, args []string, jsonOut bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: achadosctl messages <userId>")
	}
	var msgs []messageResponse
	if err := c.get("/v1/messages/"+url.PathEscape(args[0]), &msgs); err != nil {
		return err
	}
	if jsonOut {
		return outputJSON(msgs)
	}
	for _, m := range msgs {
		when := time.UnixMilli(m.CreatedAt).Format("02/01 15:04")
		marker := ""
		if m.Pending {
			marker = " (sending)"
		}
		fmt.Printf("%s #%-6d %s%s\n", when, m.SenderID, m.Text, marker)
	}
	return nil
}

func cmdSend(c *client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: achadosctl send <userId> <text>")
	}
	recipientID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	var msg messageResponse
	body := map[string]any{"recipientId": recipientID, "text": args[1]}
	if err := c.post("/v1/messages", body, &msg); err != nil {
		return err
	}
	fmt.Printf("Queued message %d\n", msg.ID)
	return nil
}

type itemResponse struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Location string `json:"location"`
	IsFound  bool   `json:"isFound"`
	User     struct {
		Username string `json:"username"`
	} `json:"user"`
}

func cmdItems(c *client, args []string, jsonOut bool) error {
	fs := flag.NewFlagSet("items", flag.ContinueOnError)
	refresh := fs.Bool("refresh", false, "reconcile the cache with the backend first")
	user := fs.Int64("user", 0, "only items owned by this user")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := url.Values{}
	if *refresh {
		q.Set("refresh", "1")
	}
	if *user != 0 {
		q.Set("user", strconv.FormatInt(*user, 10))
	}
	path := "/v1/items"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list []itemResponse
	if err := c.get(path, &list); err != nil {
		return err
	}
	if jsonOut {
		return outputJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No items cached.")
		return nil
	}
	for _, it := range list {
		kind := "lost"
		if it.IsFound {
			kind = "found"
		}
		fmt.Printf("#%-6d [%-5s] %-30s %s (by %s)\n", it.ID, kind, it.Title, it.Location, it.User.Username)
	}
	return nil
}

func cmdReport(c *client, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	title := fs.String("title", "", "item title")
	description := fs.String("description", "", "item description")
	location := fs.String("location", "", "where it was lost or found")
	found := fs.Bool("found", false, "report a found item instead of a lost one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *title == "" || *location == "" || fs.NArg() != 1 {
		return fmt.Errorf("usage: achadosctl report --title T --location L [--found] [--description D] <photo>")
	}

	var resp struct {
		JobID string `json:"jobId"`
	}
	fields := map[string]string{
		"title":       *title,
		"description": *description,
		"location":    *location,
		"isFound":     strconv.FormatBool(*found),
	}
	if err := c.postMultipart("/v1/reports", fields, fs.Arg(0), &resp); err != nil {
		return err
	}
	fmt.Printf("Report queued: %s\n", resp.JobID)
	return nil
}

type reportQueueResponse struct {
	JobID    string `json:"jobId"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

func cmdReports(c *client, jsonOut bool) error {
	var jobs []reportQueueResponse
	if err := c.get("/v1/reports", &jobs); err != nil {
		return err
	}
	if jsonOut {
		return outputJSON(jobs)
	}
	if len(jobs) == 0 {
		fmt.Println("Upload queue is empty.")
		return nil
	}
	for _, j := range jobs {
		line := fmt.Sprintf("%-36s %-10s attempts=%d %s", j.JobID, j.Status, j.Attempts, j.Title)
		if j.Error != "" {
			line += "  (" + j.Error + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func cmdDiscard(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: achadosctl discard <jobId>")
	}
	if err := c.delete("/v1/reports/" + url.PathEscape(args[0])); err != nil {
		return err
	}
	fmt.Println("Discarded.")
	return nil
}

type eventResponse struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload"`
}

// cmdWatch long-polls the event stream until interrupted.
func cmdWatch(c *client, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	q := url.Values{"timeout": {"25s"}}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	path := "/v1/events?" + q.Encode()

	for {
		var events []eventResponse
		if err := c.get(path, &events); err != nil {
			return err
		}
		for _, evt := range events {
			when := time.UnixMilli(evt.Timestamp).Format("15:04:05")
			fmt.Printf("%s %s\n", when, evt.Kind)
		}
	}
}
