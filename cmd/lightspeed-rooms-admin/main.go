package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/types"
)

// A very simple CLI tool for the administration of lightspeed-rooms rooms and users.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	limit      = pflag.IntP("limit", "n", 0, "number of messages to print (messages command)")
	tokenTTL   = pflag.Duration("ttl", 24*time.Hour, "validity of issued tokens (token command)")
	createdBy  = pflag.String("created-by", "", "user id of the room creator (rooms create command)")
)

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		globals.AppLogger.Error("could not marshal result", "error", err)
		return
	}
	fmt.Println(string(out))
}

func readDefinition(arg string) io.Reader {
	if arg == "-" {
		return os.Stdin
	}
	return bytes.NewReader([]byte(arg))
}

func main() {
	log.SetFlags(0)

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)

	var rootCmd = &cobra.Command{Use: "lightspeed-rooms-admin", SilenceUsage: true}
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)

	var globalConfig *config.Config
	var persister persistence.Persister
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		globalConfig, err = config.ReadConfiguration(*configPath, flagSet)
		if err != nil {
			return err
		}
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
		if cmd.Name() == "token" {
			return nil
		}
		persister, err = persistence.NewPersister(globalConfig)
		return err
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if persister != nil {
			_ = persister.Close()
		}
	}
	opContext := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), globalConfig.PersistenceConfig.OpTimeout)
	}

	var cmdRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Manage rooms",
	}
	var cmdRoomsList = &cobra.Command{
		Use:   "list",
		Short: "List rooms",
		Long:  `list prints all available rooms.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			rooms, err := persister.GetRooms(ctx)
			if err != nil {
				return fmt.Errorf("could not get rooms: %w", err)
			}
			printJSON(rooms)
			return nil
		},
	}
	var cmdRoomsCreate = &cobra.Command{
		Use:   "create [room name]",
		Short: "Create room",
		Long:  `create stores a new group room with the given name and prints it, including the assigned id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			room := &types.Room{Name: args[0], CreatedBy: *createdBy}
			if room.CreatedBy != "" {
				if _, err := persister.GetUser(ctx, room.CreatedBy); err != nil {
					return fmt.Errorf("could not get creator: %w", err)
				}
			}
			if err := persister.StoreRoom(ctx, room); err != nil {
				return fmt.Errorf("could not store room: %w", err)
			}
			printJSON(room)
			return nil
		},
	}
	var cmdRoomsShow = &cobra.Command{
		Use:   "show [room id]",
		Short: "Show room",
		Long:  `show prints detail information about the room with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := types.ParseRoomKey(args[0])
			if err != nil || key.Private {
				return fmt.Errorf("invalid room id %q", args[0])
			}
			ctx, cancel := opContext()
			defer cancel()
			room, err := persister.GetRoom(ctx, key.RoomId)
			if err != nil {
				return fmt.Errorf("could not get room: %w", err)
			}
			printJSON(room)
			return nil
		},
	}

	var cmdUsers = &cobra.Command{
		Use:   "users",
		Short: "Manage users",
	}
	var cmdUsersCreate = &cobra.Command{
		Use:   "create [user definition]",
		Short: "Create or update user",
		Long:  `create stores the user with the given JSON definition. If the user definition is "-", it is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := &types.User{}
			if err := json.NewDecoder(readDefinition(args[0])).Decode(user); err != nil {
				return fmt.Errorf("could not decode user: %w", err)
			}
			if user.Id == "" {
				return fmt.Errorf("no user id")
			}
			if user.Status == "" {
				user.Status = types.StatusOffline
			}
			ctx, cancel := opContext()
			defer cancel()
			if err := persister.StoreUser(ctx, user); err != nil {
				return fmt.Errorf("could not store user: %w", err)
			}
			globals.AppLogger.Info("stored user", "user", user.Id)
			return nil
		},
	}
	var cmdUsersShow = &cobra.Command{
		Use:   "show [user id]",
		Short: "Show user",
		Long:  `show prints detail information about the user with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			user, err := persister.GetUser(ctx, args[0])
			if err != nil {
				return fmt.Errorf("could not get user: %w", err)
			}
			printJSON(user)
			return nil
		},
	}

	var cmdMessages = &cobra.Command{
		Use:   "messages [room key]",
		Short: "Show message history",
		Long:  `messages prints the latest messages of a group room (id or room_<id>) or private room (private_<a>_<b>), oldest first.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := types.ParseRoomKey(args[0])
			if err != nil {
				return err
			}
			n := globalConfig.HistoryConfig.ClampLimit(*limit)
			ctx, cancel := opContext()
			defer cancel()
			if key.Private {
				messages, err := persister.ListPrivateMessages(ctx, key.Key, n)
				if err != nil {
					return fmt.Errorf("could not get messages: %w", err)
				}
				printJSON(messages)
				return nil
			}
			messages, err := persister.ListMessages(ctx, key.RoomId, n)
			if err != nil {
				return fmt.Errorf("could not get messages: %w", err)
			}
			printJSON(messages)
			return nil
		},
	}

	var cmdToken = &cobra.Command{
		Use:   "token [user id]",
		Short: "Issue a token",
		Long:  `token prints an HS256 token for the given user id, signed with the configured jwt_secret. Meant for development.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalConfig.AuthConfig.JWTSecret == "" {
				return fmt.Errorf("no jwt_secret configured")
			}
			token, err := auth.NewJWTVerifier(globalConfig.AuthConfig.JWTSecret).Issue(args[0], *tokenTTL)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmdRooms.AddCommand(cmdRoomsList, cmdRoomsCreate, cmdRoomsShow)
	cmdUsers.AddCommand(cmdUsersCreate, cmdUsersShow)
	rootCmd.AddCommand(cmdRooms, cmdUsers, cmdMessages, cmdToken)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
