package account

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/snowflake-kv/sfdash/cmd/util"
	"github.com/snowflake-kv/sfdash/lib/session"
	"github.com/spf13/cobra"
)

var (
	// LoginCmd verifies an access key and saves it
	LoginCmd = &cobra.Command{
		Use:   "login [token]",
		Short: "Saves the access key used to connect to the dashboard socket",
		Long: `Saves the access key used to connect to the dashboard socket.
The key is only saved after the server accepted it. Without argument the key
is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: login,
	}

	// LogoutCmd removes the saved access key
	LogoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Removes the saved access key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := util.GetCredentialStore()
			if err := creds.Remove(); err != nil {
				return err
			}
			fmt.Printf("removed access key from %s\n", creds.Path())
			return nil
		},
	}

	// StatusCmd connects and prints the connection state, application info and access
	StatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Shows the connection status, server info and granted permissions",
		Args:  cobra.NoArgs,
		RunE:  status,
	}
)

func init() {
	key := "metrics"
	StatusCmd.Flags().Bool(key, false, util.WrapString("Print the client metrics in Prometheus text format"))
}

func login(cmd *cobra.Command, args []string) error {
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		fmt.Print("access key: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read access key: %w", err)
		}
		token = line
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("access key must not be empty")
	}

	s, err := util.OpenSession(cmd.Context(), token)
	if err != nil {
		return fmt.Errorf("access key rejected: %w", err)
	}
	defer s.Close()

	cred, err := s.Credentials.Save(token, util.GetAccessKeyExpiration())
	if err != nil {
		return err
	}

	expires := "never"
	if cred.ExpiresAt != nil {
		expires = cred.ExpiresAt.Local().Format("2006-01-02 15:04:05")
	}

	fmt.Println(util.RenderSection("Logged in",
		util.Field{Name: "Alias", Value: s.Grant().Alias()},
		util.Field{Name: "Saved to", Value: s.Credentials.Path()},
		util.Field{Name: "Expires", Value: expires},
	))
	return nil
}

func status(cmd *cobra.Command, _ []string) error {
	s, err := util.NewSession("")
	if errors.Is(err, util.ErrNotLoggedIn) {
		fmt.Println(util.RenderOverlay(session.StateInit, session.Overlay{Open: true, NeedsCredential: true}))
		return err
	}
	if err != nil {
		return err
	}
	defer s.Close()

	connectErr := s.Connect(cmd.Context())

	ctrl := s.Controller
	sections := []string{util.RenderOverlay(ctrl.State(), ctrl.Overlay())}
	if connectErr != nil {
		sections = append(sections, util.WarningStyle.Render(connectErr.Error()))
	}

	info, loadState := ctrl.Store().AppInfo()
	sections = append(sections, util.SectionStyle.Render(util.RenderSection("Server",
		util.Field{Name: "Name", Value: info.Name},
		util.Field{Name: "Version", Value: info.Version},
		util.Field{Name: "Encryption", Value: strconv.FormatBool(info.Encryption)},
		util.Field{Name: "Memory monitor", Value: strconv.FormatBool(info.Monitor)},
		util.Field{Name: "CLI port", Value: strconv.Itoa(info.CLIPort)},
		util.Field{Name: "Info", Value: loadState.String()},
	)))

	grant := ctrl.Store().Grant()
	permissions := strings.Join(grant.Permissions(), ", ")
	if permissions == "" {
		permissions = "none"
	}
	sections = append(sections, util.SectionStyle.Render(util.RenderSection("Access",
		util.Field{Name: "Alias", Value: grant.Alias()},
		util.Field{Name: "Permissions", Value: permissions},
	)))

	for _, section := range sections {
		fmt.Println(section)
	}

	if printMetrics, _ := cmd.Flags().GetBool("metrics"); printMetrics {
		fmt.Println()
		metrics.WritePrometheus(os.Stdout, false)
	}
	return connectErr
}
