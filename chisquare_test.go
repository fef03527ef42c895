// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"fmt"

	"gopkg.in/check.v1"
)

type carrierChiSquaredSuite struct{}

var _ = check.Suite(&carrierChiSquaredSuite{})

// cohortFromTable expands 2x2 contingency-table cell counts into the
// per-sample boolean slices carrierChiSquaredPvalue consumes.
func cohortFromTable(noncarrierControls, noncarrierCases, carrierControls, carrierCases int) (carrier, caseControl []bool) {
	add := func(isCarrier, isCase bool, count int) {
		for i := 0; i < count; i++ {
			carrier = append(carrier, isCarrier)
			caseControl = append(caseControl, isCase)
		}
	}
	add(false, false, noncarrierControls)
	add(false, true, noncarrierCases)
	add(true, false, carrierControls)
	add(true, true, carrierCases)
	return carrier, caseControl
}

func (s *carrierChiSquaredSuite) TestIndependentTable(c *check.C) {
	// Carrier status carries no information about case status: every
	// observed cell equals its expected cell, so the statistic is 0
	// and the p-value exactly 1.
	carrier, caseControl := cohortFromTable(5, 5, 5, 5)
	c.Check(carrierChiSquaredPvalue(carrier, caseControl), check.Equals, 1.0)
}

func (s *carrierChiSquaredSuite) TestAssociatedTable(c *check.C) {
	// With cells 15/5/5/15 and balanced marginals of 20, every
	// expected cell is 10 and the statistic is 4*(5*5/10) = 10. The
	// 1-degree-of-freedom survival function at 10 is 0.0015654
	// (chi-squared tables place the 0.001 critical value at 10.828).
	carrier, caseControl := cohortFromTable(15, 5, 5, 15)
	c.Check(fmt.Sprintf("%.4f", carrierChiSquaredPvalue(carrier, caseControl)), check.Equals, "0.0016")
}
