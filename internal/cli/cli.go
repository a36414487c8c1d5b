// Package cli implements portalctl, a command-line client that keeps its own
// Token Store in a file and talks to the identity service and the portal.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gatepro/portal/internal/identity"
	"gatepro/portal/internal/logger"
	"gatepro/portal/internal/model"
	"gatepro/portal/internal/session"
)

type app struct {
	identityURL string
	portalURL   string
	sessionFile string
	timeout     time.Duration
	verbose     bool

	out io.Writer
	log *zap.Logger
}

// client is one invocation's view of the stored session.
type client struct {
	session *session.Session
	jar     http.CookieJar
	portal  *url.URL
}

func NewRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out, log: zap.NewNop()}

	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Command-line client for the GATEPro portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.verbose {
				l, err := logger.New(true)
				if err != nil {
					return err
				}
				a.log = l
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.identityURL, "identity-url", envOr("IDENTITY_URL", "http://localhost:5000"), "identity service base URL")
	flags.StringVar(&a.portalURL, "portal-url", envOr("PORTAL_URL", "http://localhost:3000"), "portal base URL")
	flags.StringVar(&a.sessionFile, "session-file", defaultSessionFile(), "where the session is stored")
	flags.DurationVar(&a.timeout, "timeout", 10*time.Second, "identity service timeout")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		a.signupCommand(),
		a.loginCommand(),
		a.logoutCommand(),
		a.whoamiCommand(),
		a.visitCommand(),
	)
	return root
}

func (a *app) signupCommand() *cobra.Command {
	var name, email, password, role string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and store its session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := model.ParseRole(role)
			if err != nil {
				return fmt.Errorf("role must be one of student, teacher, admin")
			}
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			result := c.session.Signup(cmd.Context(), name, email, password, string(parsed))
			if !result.Success {
				return errors.New(result.Message)
			}
			fmt.Fprintln(a.out, result.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", os.Getenv("PORTAL_PASSWORD"), "password (or PORTAL_PASSWORD)")
	cmd.Flags().StringVar(&role, "role", string(model.RoleStudent), "student, teacher or admin")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) loginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			result := c.session.Login(cmd.Context(), email, password)
			if !result.Success {
				return errors.New(result.Message)
			}
			fmt.Fprintln(a.out, result.Message)
			printUser(a.out, result.User)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", os.Getenv("PORTAL_PASSWORD"), "password (or PORTAL_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Revalidate the stored session and print the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			state := c.session.Init(cmd.Context())
			if state.User == nil {
				return errors.New("not logged in")
			}
			printUser(a.out, state.User)
			return nil
		},
	}
}

func (a *app) visitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "visit <path>",
		Short: "Request a portal path with the stored token and show where the gate sends you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			path := args[0]
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			target := c.portal.ResolveReference(&url.URL{Path: path})

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target.String(), nil)
			if err != nil {
				return err
			}
			hc := &http.Client{
				Jar:     c.jar,
				Timeout: a.timeout,
				CheckRedirect: func(*http.Request, []*http.Request) error {
					return http.ErrUseLastResponse
				},
			}
			resp, err := hc.Do(req)
			if err != nil {
				return fmt.Errorf("visit %s: %w", path, err)
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)

			if location := resp.Header.Get("Location"); location != "" {
				fmt.Fprintf(a.out, "%d %s -> %s\n", resp.StatusCode, path, location)
				return nil
			}
			fmt.Fprintf(a.out, "%d %s\n", resp.StatusCode, path)
			return nil
		},
	}
}

// open loads the stored session and re-applies its token cookie to a fresh
// jar for the portal.
func (a *app) open(ctx context.Context) (*client, error) {
	portal, err := url.Parse(strings.TrimRight(a.portalURL, "/"))
	if err != nil || portal.Scheme == "" || portal.Host == "" {
		return nil, fmt.Errorf("invalid portal url %q", a.portalURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	store := session.NewStore(
		session.NewFileBackend(a.sessionFile),
		session.JarMirror{Jar: jar, URL: portal},
		session.DefaultCookieMaxAge,
	)
	if err := store.Restore(ctx); err != nil {
		return nil, err
	}
	idc := identity.New(a.identityURL,
		identity.WithTimeout(a.timeout),
		identity.WithLogger(a.log.Named("identity")),
	)
	return &client{
		session: session.New(store, idc, session.WithLogger(a.log)),
		jar:     jar,
		portal:  portal,
	}, nil
}

func printUser(out io.Writer, user *model.User) {
	if user == nil {
		return
	}
	fmt.Fprintf(out, "%s <%s> role=%s\n", user.Name, user.Email, user.NormalizedRole())
}

func defaultSessionFile() string {
	if path := os.Getenv("PORTAL_SESSION_FILE"); path != "" {
		return path
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "gatepro", "session.json")
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
