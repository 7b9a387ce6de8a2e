package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"free-alt-finder/internal/domain"
)

func newSearchCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "执行一次查询 (与 /api/search 相同的流程)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("请用 -q 指定要替代的软件，例如: -q Photoshop")
			}
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service.Search(cmd.Context(), query)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "付费软件名称")
	return cmd
}

func newProbeCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "只调用模型并展示原始输出和解析结果，不读写数据库",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("请用 -q 指定要替代的软件，例如: -q Photoshop")
			}
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "🤖 模型: %s\n", a.service.Model())
			text, records, err := a.service.Probe(cmd.Context(), query)
			fmt.Fprintln(out, "================ [ 原始输出 ] ================")
			fmt.Fprintln(out, text)
			fmt.Fprintln(out, "==============================================")
			if err != nil {
				return err
			}
			printRecords(out, records)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "付费软件名称")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建/更新 alternatives 表",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ 迁移完成")
			return nil
		},
	}
}

func printResult(w io.Writer, res *domain.SearchResult) {
	fmt.Fprintf(w, "📦 [%s] %s\n", res.Source, res.Message)
	printRecords(w, res.Results)
}

func printRecords(w io.Writer, records []*domain.Alternative) {
	for i, r := range records {
		fmt.Fprintf(w, "%d. %s", i+1, r.Name)
		if r.Category != "" {
			fmt.Fprintf(w, " (%s)", r.Category)
		}
		fmt.Fprintln(w)
		if r.URL != "" {
			fmt.Fprintf(w, "   🔗 %s\n", r.URL)
		}
		if r.ShortDescription != "" {
			fmt.Fprintf(w, "   📝 %s\n", r.ShortDescription)
		}
		if len(r.Tags) > 0 {
			fmt.Fprintf(w, "   🏷️ %s\n", strings.Join(r.Tags, ", "))
		}
	}
}
