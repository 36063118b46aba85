package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"phabry/pkg/auth"
	"phabry/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Phabricator API tokens",
	Long: `Manage stored Phabricator API tokens securely.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read-only fallback)

Never share your tokens or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store a Phabricator host and API token securely",
	Long: `Store a Phabricator host entry in the system keychain or encrypted file.

You will be prompted for:
  - A short name for the host (if not provided)
  - The Conduit API base URL, e.g. https://phab.example.com/api/
  - The API token (from Settings > Conduit API Tokens)`,
	Example: `  # Interactive login
  phabry auth login

  # Login with a host name
  phabry auth login work`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:     "logout [name]",
	Aliases: []string{"remove"},
	Short:   "Remove a stored host entry",
	Long: `Remove a stored Phabricator host entry.

If no name is provided, you will be shown the stored hosts to choose from.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored hosts",
	Long:  `List all stored Phabricator hosts with masked token information.`,
	Run:   runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

func runLogin(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize token manager", err.Error())
		os.Exit(1)
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	}

	reader := bufio.NewReader(os.Stdin)

	if name == "" {
		fmt.Print("Host name: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			ui.PrintError("Failed to read host name", err.Error())
			os.Exit(1)
		}
		name = strings.TrimSpace(input)
	}

	if name == "" {
		ui.PrintError("Host name is required", "")
		os.Exit(1)
	}

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("Host '%s' already exists. Update it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	fmt.Print("Conduit API URL: ")
	urlInput, err := reader.ReadString('\n')
	if err != nil {
		ui.PrintError("Failed to read URL", err.Error())
		os.Exit(1)
	}
	apiURL := strings.TrimSpace(urlInput)
	if apiURL == "" {
		ui.PrintError("API URL is required", "")
		os.Exit(1)
	}

	fmt.Print("API token (hidden as you type): ")
	token, err := readToken()
	if err != nil {
		ui.PrintError("Failed to read token", err.Error())
		os.Exit(1)
	}
	if token == "" {
		ui.PrintError("API token is required", "")
		os.Exit(1)
	}
	// Conduit tokens look like api-xxxxxxxxxxxxxxxxxxxxxxxxxxxx
	if !strings.HasPrefix(token, "api-") {
		ui.PrintWarning("Token does not start with 'api-', storing it anyway")
	}

	host := &auth.Host{
		Name:         name,
		URL:          apiURL,
		Token:        token,
		LastModified: time.Now(),
	}

	if err := manager.Store(host); err != nil {
		ui.PrintError("Failed to store host entry", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess(fmt.Sprintf("Host saved: %s", name))
	fmt.Println("\nFetch an instance with:")
	fmt.Printf("  $ phabry fetch <target> --host %s\n", name)
}

func runLogout(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize token manager", err.Error())
		os.Exit(1)
	}

	if len(args) > 0 {
		name := args[0]
		if err := manager.Delete(name); err != nil {
			ui.PrintError("Failed to remove host", err.Error())
			os.Exit(1)
		}
		ui.PrintSuccess("Host removed: " + name)
		return
	}

	hosts, err := manager.List()
	if err != nil || len(hosts) == 0 {
		ui.PrintError("No stored hosts found", "")
		return
	}

	reader := bufio.NewReader(os.Stdin)

	if len(hosts) == 1 {
		host := hosts[0]
		fmt.Printf("Remove host '%s'? (y/N): ", host.Name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
		if err := manager.Delete(host.Name); err != nil {
			ui.PrintError("Failed to remove host", err.Error())
			os.Exit(1)
		}
		ui.PrintSuccess("Host removed: " + host.Name)
		return
	}

	fmt.Println("Select host to remove:")
	for i, host := range hosts {
		fmt.Printf("  %d. %s\n", i+1, host.Name)
	}
	fmt.Printf("  0. Cancel\n\n")

	fmt.Print("Choice: ")
	input, _ := reader.ReadString('\n')

	var choice int
	fmt.Sscanf(strings.TrimSpace(input), "%d", &choice)

	if choice < 1 || choice > len(hosts) {
		return
	}

	host := hosts[choice-1]
	if err := manager.Delete(host.Name); err != nil {
		ui.PrintError("Failed to remove host", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Host removed: " + host.Name)
}

func runList(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize token manager", err.Error())
		os.Exit(1)
	}

	hosts, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list hosts", err.Error())
		os.Exit(1)
	}

	if len(hosts) == 0 {
		ui.PrintInfo("No stored hosts", "Use 'phabry auth login' to add one")
		return
	}

	ui.PrintHighlight("Stored Hosts")
	fmt.Println()

	for i, host := range hosts {
		fmt.Printf("%d. Name: %s\n", i+1, host.Name)
		fmt.Printf("   URL: %s\n", host.URL)
		fmt.Printf("   Token: %s\n", maskToken(host.Token))
		fmt.Printf("   Last Modified: %s\n", host.LastModified.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}
}

// maskToken keeps only the prefix and last characters of a token visible
func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// readToken reads a token from stdin without echoing
func readToken() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		token, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(token)), nil
		}
	}

	// Fallback to regular input
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
