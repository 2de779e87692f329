package domain

// Category is the sector an instrument is classified into (GICS-based, Korean
// labels). Use ValidateCategory to ensure validity before use.
type Category string

const (
	CategoryEnergy        Category = "에너지"
	CategoryMaterials     Category = "소재"
	CategoryIndustrials   Category = "산업재"
	CategoryDiscretionary Category = "경기소비재"
	CategoryStaples       Category = "필수소비재"
	CategoryHealthcare    Category = "헬스케어"
	CategoryFinancials    Category = "금융"
	CategoryIT            Category = "IT"
	CategoryTelecom       Category = "통신서비스"
	CategoryUtilities     Category = "유틸리티"
	CategoryRealEstate    Category = "부동산"
	CategoryOther         Category = "기타"

	// CategoryETF is assigned by the keyword rules when no sector is known.
	CategoryETF Category = "ETF"
	// CategoryUnclassified is the bucket for instruments with no category.
	CategoryUnclassified Category = "미분류"
)

// Sectors lists the sector categories in display order.
var Sectors = []Category{
	CategoryEnergy, CategoryMaterials, CategoryIndustrials, CategoryDiscretionary,
	CategoryStaples, CategoryHealthcare, CategoryFinancials, CategoryIT,
	CategoryTelecom, CategoryUtilities, CategoryRealEstate, CategoryOther,
}

var validCategories = func() map[Category]struct{} {
	m := make(map[Category]struct{}, len(Sectors)+2)
	for _, c := range Sectors {
		m[c] = struct{}{}
	}
	m[CategoryETF] = struct{}{}
	m[CategoryUnclassified] = struct{}{}
	return m
}()

// ValidateCategory checks if category is valid
func ValidateCategory(c Category) bool {
	_, ok := validCategories[c]
	return ok
}

// IsSector reports whether c is one of the twelve sectors.
func IsSector(c Category) bool {
	for _, s := range Sectors {
		if s == c {
			return true
		}
	}
	return false
}
