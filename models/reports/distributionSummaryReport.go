package reports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type DistributionSummaryRow struct {
	CustomerID        int             `json:"CustomerId"`
	CustomerName      string          `json:"CustomerName"`
	DistributionCount int             `json:"DistributionCount"`
	PackageCount      int             `json:"PackageCount"`
	TotalCharged      decimal.Decimal `json:"TotalCharged"`
	TotalCollected    decimal.Decimal `json:"TotalCollected"`
	TotalCredit       decimal.Decimal `json:"TotalCredit"`
	TotalWriteOff     decimal.Decimal `json:"TotalWriteOff"`
	TotalOutstanding  decimal.Decimal `json:"TotalOutstanding"`
}

// GetDistributionSummaryReport aggregates settlements per customer over a
// date range.
func GetDistributionSummaryReport(ctx context.Context, fromDate, toDate time.Time) ([]*DistributionSummaryRow, error) {
	if toDate.Before(fromDate) {
		return nil, errors.New("to date must not be before from date")
	}

	sql := `
SELECT
    pd.customer_id,
    customers.name AS customer_name,
    pd.distribution_count,
    items.package_count,
    pd.total_charged,
    pd.total_collected,
    pd.total_credit,
    pd.total_write_off,
    pd.total_outstanding
FROM
    (SELECT
        customer_id,
            COUNT(id) AS distribution_count,
            SUM(total_amount) AS total_charged,
            SUM(amount_collected) AS total_collected,
            SUM(credit_applied) AS total_credit,
            SUM(write_off_amount) AS total_write_off,
            SUM(outstanding_balance) AS total_outstanding
    FROM
        package_distributions
    WHERE
        distributed_at BETWEEN @fromDate AND @toDate
    GROUP BY customer_id) AS pd
        LEFT JOIN
    (SELECT
        package_distributions.customer_id,
            COUNT(package_distribution_items.id) AS package_count
    FROM
        package_distribution_items
            JOIN package_distributions
                ON package_distributions.id = package_distribution_items.distribution_id
    WHERE
        package_distributions.distributed_at BETWEEN @fromDate AND @toDate
    GROUP BY package_distributions.customer_id) AS items
        ON items.customer_id = pd.customer_id
        LEFT JOIN
    customers ON customers.id = pd.customer_id
ORDER BY pd.total_charged DESC;
`

	var records []*DistributionSummaryRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"fromDate": fromDate,
		"toDate":   toDate,
	}).Scan(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

// ExportDistributionSummaryExcel writes the report as an xlsx attachment.
func ExportDistributionSummaryExcel(ctx context.Context, w http.ResponseWriter, fromDate, toDate time.Time) error {
	data, err := GetDistributionSummaryReport(ctx, fromDate, toDate)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	sheetName := "Sheet1"
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}

	// Add headers
	f.SetCellValue(sheetName, "A1", "CustomerName")
	f.SetCellValue(sheetName, "B1", "Distributions")
	f.SetCellValue(sheetName, "C1", "Packages")
	f.SetCellValue(sheetName, "D1", "TotalCharged")
	f.SetCellValue(sheetName, "E1", "Collected")
	f.SetCellValue(sheetName, "F1", "CreditApplied")
	f.SetCellValue(sheetName, "G1", "WriteOff")
	f.SetCellValue(sheetName, "H1", "Outstanding")

	// Add data
	for i, d := range data {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheetName, "A"+row, d.CustomerName)
		f.SetCellValue(sheetName, "B"+row, d.DistributionCount)
		f.SetCellValue(sheetName, "C"+row, d.PackageCount)
		f.SetCellValue(sheetName, "D"+row, d.TotalCharged.StringFixed(2))
		f.SetCellValue(sheetName, "E"+row, d.TotalCollected.StringFixed(2))
		f.SetCellValue(sheetName, "F"+row, d.TotalCredit.StringFixed(2))
		f.SetCellValue(sheetName, "G"+row, d.TotalWriteOff.StringFixed(2))
		f.SetCellValue(sheetName, "H"+row, d.TotalOutstanding.StringFixed(2))
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=distributionSummary.xlsx")
	return f.Write(w)
}
