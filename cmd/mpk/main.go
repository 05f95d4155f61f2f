package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"machinepark/internal/app"
	"machinepark/internal/config"
	"machinepark/internal/db"
	"machinepark/internal/domain"
	"machinepark/internal/engine"
	"machinepark/internal/migrate"
	"machinepark/internal/repo"
	"machinepark/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "mpk",
	Short: "Machine park CLI",
	Long: `Machinepark manages the lifecycle of arcade machines from assembly to retirement.
- Workspace: the .machinepark directory holding the database; machinepark.yml tunes notifications and plate codes.
- Machines: move through Ensamblaje -> Comprobacion -> Distribucion -> Recaudacion, with Mantenimiento for breakdowns.
- Components: boards (Placa) and enclosures (Carcasa) claimed from a shared pool; a component is mounted on exactly one machine.
- Technicians: assemblers, verifiers, and maintenance staff picked by lowest workload.
- Notifications: per-user inbox rows written after each transition commits.
- Event log: diary of changes, view with 'mpk log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MACHINEPARK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("park", "", "park id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("park", rootCmd.PersistentFlags().Lookup("park"))
}

func registerCommands() {
	rootCmd.AddCommand(machineCmd())
	rootCmd.AddCommand(componentCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(distributionCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func machineCmd() *cobra.Command {
	m := &cobra.Command{Use: "machine", Short: "Manage machines"}
	m.AddCommand(machineRegisterCmd())
	m.AddCommand(machineListCmd())
	m.AddCommand(machineShowCmd())
	m.AddCommand(machineComponentsCmd())
	for _, op := range []string{
		engine.OpSendToVerification,
		engine.OpSendToReassembly,
		engine.OpSendToDistribution,
		engine.OpMarkOperational,
		engine.OpSendToMaintenance,
		engine.OpCancelRegistration,
	} {
		m.AddCommand(machineTransitionCmd(op))
	}
	m.AddCommand(machineFinishMaintenanceCmd())
	return m
}

func machineRegisterCmd() *cobra.Command {
	var name, machineType, commerce, plate, enclosure string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a machine and start assembly",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.RegisterMachine(ctx, engine.RegisterMachineInput{
					Name:        name,
					Type:        machineType,
					CommerceID:  commerce,
					PlateID:     plate,
					EnclosureID: enclosure,
					ActorID:     viper.GetString("user-id"),
				})
				if err != nil {
					return err
				}
				printWarnings(res.Warnings)
				return printJSONOrTable(res.Machine)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "machine name")
	cmd.Flags().StringVar(&machineType, "type", "", "machine type")
	cmd.Flags().StringVar(&commerce, "commerce", "", "destination commerce id")
	cmd.Flags().StringVar(&plate, "plate", "", "board component id")
	cmd.Flags().StringVar(&enclosure, "enclosure", "", "enclosure component id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("plate")
	_ = cmd.MarkFlagRequired("enclosure")
	return cmd
}

func machineListCmd() *cobra.Command {
	var f repo.MachineFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				machines, err := r.ListMachines(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(machines)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Stage", "Status", "Assembler", "Verifier", "Maintainer"})
				for _, m := range machines {
					maintainer := ""
					if m.MaintainerID != nil {
						maintainer = *m.MaintainerID
					}
					tw.AppendRow(table.Row{m.ID, m.Name, m.Stage, m.Status, m.AssemblerID, m.VerifierID, maintainer})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssemblerID, "assembler", "", "assembler filter")
	cmd.Flags().StringVar(&f.VerifierID, "verifier", "", "verifier filter")
	cmd.Flags().StringVar(&f.MaintainerID, "maintainer", "", "maintainer filter")
	cmd.Flags().StringVar(&f.CommerceID, "commerce", "", "commerce filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func machineShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <machine-id>",
		Short: "Show a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				m, err := r.GetMachine(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func machineComponentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "components <machine-id>",
		Short: "List components mounted on a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetMachine(ctx, args[0]); err != nil {
					return err
				}
				items, err := r.ComponentsForMachine(ctx, args[0])
				if err != nil {
					return err
				}
				return printComponents(items)
			})
		},
	}
	return cmd
}

func machineTransitionCmd(op string) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   op + " <machine-id>",
		Short: "Apply the " + op + " transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Transition(ctx, args[0], op, viper.GetString("user-id"),
					engine.TransitionOpts{Message: message})
				if err != nil {
					return err
				}
				printWarnings(res.Warnings)
				return printJSONOrTable(res.Machine)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "notification text for the transition")
	return cmd
}

func machineFinishMaintenanceCmd() *cobra.Command {
	var failed bool
	var message string
	cmd := &cobra.Command{
		Use:   engine.OpFinishMaintenance + " <machine-id>",
		Short: "Finish a repair: back to service, or retire with --failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				success := !failed
				res, err := e.Transition(ctx, args[0], engine.OpFinishMaintenance, viper.GetString("user-id"),
					engine.TransitionOpts{Success: &success, Message: message})
				if err != nil {
					return err
				}
				printWarnings(res.Warnings)
				return printJSONOrTable(res.Machine)
			})
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "repair failed, retire the machine")
	cmd.Flags().StringVar(&message, "message", "", "notification text for the outcome")
	return cmd
}

func componentCmd() *cobra.Command {
	c := &cobra.Command{Use: "component", Short: "Manage the component pool"}
	c.AddCommand(componentListCmd())
	c.AddCommand(componentAvailableCmd())
	c.AddCommand(componentInUseCmd())
	c.AddCommand(componentShowCmd())
	c.AddCommand(componentMintPlateCmd())
	c.AddCommand(componentAddEnclosureCmd())
	c.AddCommand(componentUseCmd())
	c.AddCommand(componentReleaseCmd())
	c.AddCommand(componentReleaseBatchCmd())
	c.AddCommand(componentAssignEnclosureCmd())
	return c
}

func componentListCmd() *cobra.Command {
	var componentType string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List components",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, total, err := r.ListComponents(ctx, componentType, limit, offset)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": items, "total": total})
				}
				if err := printComponents(items); err != nil {
					return err
				}
				fmt.Printf("total: %d\n", total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&componentType, "type", "", "component type (Placa, Carcasa)")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func componentAvailableCmd() *cobra.Command {
	var componentType string
	cmd := &cobra.Command{
		Use:   "available",
		Short: "List available components",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAvailableComponents(ctx, componentType)
				if err != nil {
					return err
				}
				return printComponents(items)
			})
		},
	}
	cmd.Flags().StringVar(&componentType, "type", "", "component type (Placa, Carcasa)")
	return cmd
}

func componentInUseCmd() *cobra.Command {
	var holder, machine string
	cmd := &cobra.Command{
		Use:   "in-use",
		Short: "List components in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListInUseComponents(ctx, holder, machine)
				if err != nil {
					return err
				}
				return printComponents(items)
			})
		},
	}
	cmd.Flags().StringVar(&holder, "holder", "", "holder technician filter")
	cmd.Flags().StringVar(&machine, "machine", "", "machine filter")
	return cmd
}

func componentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <component-id>",
		Short: "Show a component",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetComponent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func componentMintPlateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint-plate",
		Short: "Mint a board with a unique plate code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.GeneratePlate(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func componentAddEnclosureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-enclosure",
		Short: "Add an enclosure to the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.CreateEnclosure(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func componentUseCmd() *cobra.Command {
	var machine string
	cmd := &cobra.Command{
		Use:   "use <component-id>",
		Short: "Claim a component for a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.UseComponent(ctx, args[0], machine, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&machine, "machine", "", "machine id")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}

func componentReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <component-id>",
		Short: "Return a component to the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.ReleaseComponent(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func componentReleaseBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release-batch <component-id>...",
		Short: "Release a set of components, skipping ones already free",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				released, err := e.ReleaseBatch(ctx, args, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"released": released})
			})
		},
	}
	return cmd
}

func componentAssignEnclosureCmd() *cobra.Command {
	var machine string
	cmd := &cobra.Command{
		Use:   "assign-enclosure <component-id>",
		Short: "Mount an enclosure on a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.AssignEnclosure(ctx, args[0], machine, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&machine, "machine", "", "machine id")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users and technicians"}
	u.AddCommand(userUpsertCmd())
	u.AddCommand(userListCmd())
	u.AddCommand(userTechniciansCmd())
	return u
}

func userUpsertCmd() *cobra.Command {
	var id, name, userType, specialty string
	var inactive bool
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || name == "" {
				return fmt.Errorf("--id and --name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var specPtr *string
				if specialty != "" {
					specPtr = &specialty
				}
				u := domain.User{
					ID:        id,
					Name:      name,
					Type:      userType,
					Specialty: specPtr,
					Active:    !inactive,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.UpsertUser(ctx, u); err != nil {
					return err
				}
				stored, err := e.Repo.GetUser(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&userType, "type", domain.UserTypeTechnician, "user type (Tecnico, Logistica)")
	cmd.Flags().StringVar(&specialty, "specialty", "", "technician specialty (Ensamblador, Comprobador, Mantenimiento)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "mark the user inactive")
	return cmd
}

func userListCmd() *cobra.Command {
	var userType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUsers(ctx, userType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Specialty", "Active", "Activities"})
				for _, u := range items {
					specialty := ""
					if u.Specialty != nil {
						specialty = *u.Specialty
					}
					tw.AppendRow(table.Row{u.ID, u.Name, u.Type, specialty, u.Active, u.Activities})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userType, "type", "", "user type filter")
	return cmd
}

func userTechniciansCmd() *cobra.Command {
	var specialty string
	cmd := &cobra.Command{
		Use:   "technicians",
		Short: "List technicians of a specialty, least loaded first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if specialty == "" {
				return fmt.Errorf("--specialty required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Directory.Technicians(ctx, specialty)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Specialty", "Activities"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Specialty, t.Activities})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&specialty, "specialty", "", "technician specialty")
	return cmd
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{Use: "notification", Short: "Notification inbox"}
	n.AddCommand(notificationListCmd())
	n.AddCommand(notificationReadCmd())
	return n
}

func notificationListCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, viper.GetString("user-id"), unread)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Machine", "From", "Read", "Created"})
				for _, it := range items {
					read := ""
					if it.ReadAt != nil {
						read = *it.ReadAt
					}
					tw.AppendRow(table.Row{it.ID, it.Kind, it.MachineID, it.SenderID, read, it.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	return cmd
}

func notificationReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid notification id %q", args[0])
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				return r.MarkNotificationRead(ctx, id, viper.GetString("user-id"), now)
			})
		},
	}
	return cmd
}

func distributionCmd() *cobra.Command {
	d := &cobra.Command{Use: "distribution", Short: "Distribution ledger"}
	d.AddCommand(distributionListCmd())
	return d
}

func distributionListCmd() *cobra.Command {
	var f repo.DistributionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List distribution records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDistributions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Machine", "Commerce", "Status", "Technician", "Updated"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.MachineID, it.CommerceID, it.Status, it.TechnicianID, it.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.CommerceID, "commerce", "", "commerce filter")
	cmd.Flags().StringVar(&f.MachineID, "machine", "", "machine filter")
	cmd.Flags().StringVar(&f.From, "from", "", "created at or after (RFC3339)")
	cmd.Flags().StringVar(&f.To, "to", "", "created at or before (RFC3339)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: registrations, transitions, component claims, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				for i := len(events) - 1; i >= 0; i-- {
					evt := events[i]
					fmt.Printf("%s %s %s/%s actor=%s %s\n", evt.TS, evt.Type, evt.EntityKind, evt.EntityID, evt.ActorID, evt.Payload)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyDeleteCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var userID, name, key string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || key == "" {
				return fmt.Errorf("--user and --key required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				apiKey := domain.APIKey{
					ID:      newCLIKeyID(),
					UserID:  userID,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := r.InsertAPIKey(ctx, apiKey); err != nil {
					return err
				}
				return printJSONOrTable(apiKey)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringVar(&key, "key", "", "raw key material")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user filter")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	return c
}

func configInitCmd() *cobra.Command {
	var parkID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default machinepark.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if parkID == "" {
				parkID = "default-park"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(parkID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&parkID, "park-id", "", "park identifier")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("park"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace, viper.GetString("park"))
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("MACHINEPARK_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("MACHINEPARK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving machine park API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace, viper.GetString("park"))
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printComponents(items []domain.Component) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Type", "Plate", "Allocation", "Machine", "Holder"})
	for _, c := range items {
		plate, machine, holder := "", "", ""
		if c.PlateCode != nil {
			plate = *c.PlateCode
		}
		if c.MachineID != nil {
			machine = *c.MachineID
		}
		if c.HolderID != nil {
			holder = *c.HolderID
		}
		tw.AppendRow(table.Row{c.ID, c.Type, plate, c.Allocation, machine, holder})
	}
	tw.Render()
	return nil
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCLIKeyID() string {
	return fmt.Sprintf("key-%d", time.Now().UnixNano())
}
