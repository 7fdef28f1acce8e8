package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/andresuchdata/mixopt/internal/report"
	"github.com/urfave/cli/v2"
)

func datesCommand() *cli.Command {
	return &cli.Command{
		Name:  "dates",
		Usage: "List the stock counts available, largest first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Stock type; defaults to inputs.stock_type, pass --all for every type",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "List every stock type",
			},
		},
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			stockType := c.String("type")
			if stockType == "" && !c.Bool("all") {
				stockType = a.Config.Inputs.StockType
			}
			dates, err := a.Engine.StockDates(c.Context, stockType)
			if err != nil {
				return err
			}

			f := report.NewFormatter(a.Config.Output.Locale, 0)
			tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "date\ttype\tskus\ttotal")
			for _, d := range dates {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.Date.Format("2006-01-02"), d.StockType, d.SkuCount, f.Number(d.TotalQuantity))
			}
			return tw.Flush()
		},
	}
}

func potentialCommand() *cli.Command {
	flags := append(runFlags(),
		&cli.StringFlag{
			Name:  "date",
			Usage: "Stock count date; defaults to the latest count",
		},
		&cli.IntFlag{
			Name:  "show",
			Usage: "SKUs to print",
			Value: 10,
		},
	)
	return &cli.Command{
		Name:  "potential",
		Usage: "Compare, per SKU, the chosen package with the best margin package",
		Flags: flags,
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			req := requestFromFlags(c)
			if c.IsSet("date") {
				dates, err := parseDates([]string{c.String("date")})
				if err != nil {
					return err
				}
				if len(dates) > 0 {
					req.StockDate = dates[0]
				}
			}

			rep, res, err := a.Engine.Opportunities(c.Context, req)
			if err != nil {
				return err
			}

			writer := reportWriter(c)
			f := writer.Formatter
			out := c.App.Writer
			fmt.Fprintf(out, "Stocked SKUs: %d, with several packages: %d, with margin spread: %d\n",
				rep.StockedSkus, rep.MultiPackageSkus, rep.SpreadSkus)
			fmt.Fprintf(out, "Mean spread: %s, SKUs off their best package: %d, total potential: %s\n\n",
				f.Number(rep.MeanSpread), rep.Unoptimized, f.Number(rep.TotalPotential))

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "sku\tclass\tbest\tchosen\tspread\tpotential")
			for i, o := range rep.Items {
				if i == c.Int("show") {
					break
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", o.SKU, o.Class, o.BestPackage, o.ChosenPackage, f.Number(o.Spread), f.Number(o.Potential))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			_, err = writer.Write(fmt.Sprintf("mixopt_%s_potencial", res.StockDate.Format("20060102")),
				[]report.Sheet{report.OpportunitySheet(*rep)})
			return err
		},
	}
}
