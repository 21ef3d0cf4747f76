package vault

import "math/big"

var basisPoints = big.NewInt(10_000)

// mulDivDown computes floor(a*b/denom) through big.Int so the intermediate
// product cannot overflow int64.
func mulDivDown(a, b, denom int64) int64 {
	if denom == 0 {
		return 0
	}
	out := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	out.Quo(out, big.NewInt(denom))
	return out.Int64()
}

// mulDivUp computes ceil(a*b/denom).
func mulDivUp(a, b, denom int64) int64 {
	if denom == 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	d := big.NewInt(denom)
	out, rem := new(big.Int).QuoRem(num, d, new(big.Int))
	if rem.Sign() != 0 {
		out.Add(out, big.NewInt(1))
	}
	return out.Int64()
}

// SharesForDeposit converts an asset inflow to shares, rounding down so a
// depositor can never mint more claim than the assets they contribute.
func SharesForDeposit(assets, totalAssets, totalShares int64) int64 {
	if totalShares == 0 {
		return assets
	}
	return mulDivDown(assets, totalShares, totalAssets)
}

// AssetsForMint prices an exact share mint, rounding the assets debited up.
func AssetsForMint(shares, totalAssets, totalShares int64) int64 {
	if totalShares == 0 {
		return shares
	}
	return mulDivUp(shares, totalAssets, totalShares)
}

// SharesForWithdraw prices an exact asset withdrawal, rounding the shares
// burned up.
func SharesForWithdraw(assets, totalAssets, totalShares int64) int64 {
	if totalShares == 0 {
		return assets
	}
	return mulDivUp(assets, totalShares, totalAssets)
}

// AssetsForRedeem converts a share burn to assets, rounding down.
func AssetsForRedeem(shares, totalAssets, totalShares int64) int64 {
	if totalShares == 0 {
		return shares
	}
	return mulDivDown(shares, totalAssets, totalShares)
}

// EarlyExitFee is floor(assets*feeBPS/10000); the truncation guarantees fee
// plus net payout never exceeds the withdrawn assets.
func EarlyExitFee(assets int64, feeBPS int32) int64 {
	return mulDivDown(assets, int64(feeBPS), basisPoints.Int64())
}

// InterestOn is floor(principal*rateBPS/10000), used for both loan interest
// and the default penalty.
func InterestOn(principal int64, rateBPS int32) int64 {
	return mulDivDown(principal, int64(rateBPS), basisPoints.Int64())
}
