package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/betbot/dicebot/internal/account"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage stored accounts",
}

var accountAddOpts struct {
	name      string
	username  string
	password  string
	signature string
	info      string
}

var importName string

func init() {
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an account from explicit credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := accountAddOpts
			acct := account.Account{
				Name:      o.name,
				Username:  o.username,
				Password:  o.password,
				Signature: o.signature,
			}
			if o.info != "" {
				acct.Info = []byte(o.info)
			}
			return withBook(cmd, func(ctx context.Context, book *account.Book) error {
				if err := acct.Validate(); err != nil {
					return err
				}
				saved, err := book.Add(ctx, acct)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已添加账户 %s (%s)\n", saved.Label(), saved.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&accountAddOpts.name, "name", "", "显示名称")
	add.Flags().StringVar(&accountAddOpts.username, "username", "", "用户名")
	add.Flags().StringVar(&accountAddOpts.password, "password", "", "密码")
	add.Flags().StringVar(&accountAddOpts.signature, "signature", "", "签名")
	add.Flags().StringVar(&accountAddOpts.info, "info", "", "info JSON 对象")
	_ = add.MarkFlagRequired("username")

	imp := &cobra.Command{
		Use:   "import <auth-frame>",
		Short: "Add an account from a captured login frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := account.ParseAuthFrame(args[0])
			if err != nil {
				return err
			}
			acct.Name = importName
			return withBook(cmd, func(ctx context.Context, book *account.Book) error {
				saved, err := book.Add(ctx, acct)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已导入账户 %s (%s)\n", saved.Label(), saved.ID)
				return nil
			})
		},
	}
	imp.Flags().StringVar(&importName, "name", "", "显示名称")

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBook(cmd, func(ctx context.Context, book *account.Book) error {
				accounts, err := book.List(ctx)
				if err != nil {
					return err
				}
				if len(accounts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "没有账户")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "\tID\tNAME\tUSERNAME\tCREDENTIALS")
				for _, a := range accounts {
					mark := ""
					if a.Selected {
						mark = "*"
					}
					creds := "ok"
					if err := a.Validate(); err != nil {
						creds = "missing"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, shortID(a.ID), a.Name, a.Username, creds)
				}
				return w.Flush()
			})
		},
	}

	sel := &cobra.Command{
		Use:   "select <id|name|username>",
		Short: "Mark the account used by the next session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBook(cmd, func(ctx context.Context, book *account.Book) error {
				a, err := book.Select(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已选择账户 %s\n", a.Label())
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id|name|username>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBook(cmd, func(ctx context.Context, book *account.Book) error {
				a, err := book.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已删除账户 %s\n", a.Label())
				return nil
			})
		},
	}

	accountCmd.AddCommand(add, imp, list, sel, del)
	rootCmd.AddCommand(accountCmd)
}

func withBook(cmd *cobra.Command, fn func(context.Context, *account.Book) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	book, closeBook, err := openBook(cfg)
	if err != nil {
		return err
	}
	defer closeBook()
	return fn(cmd.Context(), book)
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
