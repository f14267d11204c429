package main

import (
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/couponhub/internal/domain/category"
	"github.com/xenking/couponhub/internal/domain/coupon"
	"github.com/xenking/couponhub/internal/domain/user"
)

// Export lines come from mongoexport in relaxed extended JSON: dates may be
// plain strings, {"$date": "..."} or {"$date": {"$numberLong": "..."}}, and
// numbers may be wrapped as {"$numberInt": "..."}.

func decodeUser(line []byte) (user.User, error) {
	var u user.User
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "userId":
			u.ID, err = d.Str()
		case "firstName":
			u.FirstName, err = d.Str()
		case "lastName":
			u.LastName, err = d.Str()
		case "email":
			u.Email, err = d.Str()
		case "phone":
			u.Phone, err = readOptionalStr(d)
		case "dob":
			u.DOB, err = readDate(d)
		case "totalCouponsUploaded":
			var n int64
			n, err = readInt(d)
			u.TotalCouponsUploaded = int(n)
		case "createdAt":
			u.CreatedAt, err = readDate(d)
		case "updatedAt":
			u.UpdatedAt, err = readDate(d)
		default:
			// The cached tier and daily counters are recomputed, not imported.
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return user.User{}, errors.Wrap(err, "decode user")
	}
	if u.ID == "" || u.Email == "" {
		return user.User{}, errors.New("decode user: userId and email are required")
	}
	if u.TotalCouponsUploaded < 0 {
		u.TotalCouponsUploaded = 0
	}
	u.Tier = user.ComputeTier(u.TotalCouponsUploaded)
	return u, nil
}

func decodeCategory(line []byte) (category.Category, error) {
	var c category.Category
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "categoryId":
			c.ID, err = readOptionalStr(d)
		case "name":
			c.Name, err = d.Str()
		case "createdAt":
			c.CreatedAt, err = readDate(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return category.Category{}, errors.Wrap(err, "decode category")
	}
	if c.Name == "" {
		return category.Category{}, errors.New("decode category: name is required")
	}
	return c, nil
}

func decodeCoupon(line []byte) (coupon.Coupon, error) {
	c := coupon.Coupon{Status: coupon.StatusNotVerified}
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "couponId":
			c.ID, err = d.Str()
		case "userId":
			c.UserID, err = d.Str()
		case "categoryName":
			c.CategoryName, err = d.Str()
		case "brandName":
			c.BrandName, err = d.Str()
		case "couponCode":
			c.Code, err = d.Str()
		case "expireDate":
			c.ExpireDate, err = readDate(d)
		case "percentage":
			c.Percentage, err = readDecimal(d)
		case "termsAndConditionImage":
			c.TermsImage, err = readOptionalStr(d)
		case "status":
			var s string
			if s, err = d.Str(); err == nil {
				c.Status = coupon.Status(s)
				if !c.Status.Valid() {
					err = errors.Errorf("unknown status %q", s)
				}
			}
		case "createdAt":
			c.CreatedAt, err = readDate(d)
		case "updatedAt":
			c.UpdatedAt, err = readDate(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "decode coupon")
	}
	if c.ID == "" || c.Code == "" || c.UserID == "" {
		return coupon.Coupon{}, errors.New("decode coupon: couponId, couponCode and userId are required")
	}
	return c, nil
}

func readOptionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// readWrapped unwraps a single-key extended JSON object such as
// {"$numberInt": "5"} and calls fn on its value.
func readWrapped(d *jx.Decoder, fn func(d *jx.Decoder) error) error {
	return d.ObjBytes(func(d *jx.Decoder, _ []byte) error {
		return fn(d)
	})
}

func readDate(d *jx.Decoder) (time.Time, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return time.Time{}, err
		}
		return parseDate(s)
	case jx.Number:
		ms, err := d.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	case jx.Object:
		var t time.Time
		err := readWrapped(d, func(d *jx.Decoder) error {
			var err error
			t, err = readDate(d)
			return err
		})
		return t, err
	case jx.Null:
		return time.Time{}, d.Null()
	default:
		return time.Time{}, errors.Errorf("unexpected %s for date", d.Next())
	}
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	// {"$numberLong": "1718409600000"} ends up here as a string.
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, errors.Errorf("invalid date %q", s)
}

func readDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(string(n))
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Object:
		var v decimal.Decimal
		err := readWrapped(d, func(d *jx.Decoder) error {
			var err error
			v, err = readDecimal(d)
			return err
		})
		return v, err
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s for number", d.Next())
	}
}

func readInt(d *jx.Decoder) (int64, error) {
	v, err := readDecimal(d)
	if err != nil {
		return 0, err
	}
	return v.IntPart(), nil
}

// idNumber extracts the numeric part of a sequential id such as USER012.
func idNumber(prefix, id string) (int64, bool) {
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.ParseInt(id[len(prefix):], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
