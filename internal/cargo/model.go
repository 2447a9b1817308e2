package cargo

import "time"

// Cargo is a shipment, the top-level grouping of articles and boxes.
type Cargo struct {
	ID                 int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Code               string    `gorm:"column:code;size:64;not null;uniqueIndex"`
	OwnerUserID        int64     `gorm:"column:owner_user_id;not null;default:0;index"`
	ClientName         string    `gorm:"column:client_name;size:190;not null;default:''"`
	ClientEmail        string    `gorm:"column:client_email;size:320;not null;default:''"`
	ClientPhone        string    `gorm:"column:client_phone;size:32;not null;default:''"`
	ShippingMark       string    `gorm:"column:shipping_mark;size:16;not null;default:''"`
	DestinationCity    string    `gorm:"column:destination_city;size:190;not null;default:''"`
	DestinationAddress string    `gorm:"column:destination_address;size:512;not null;default:''"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Cargo) TableName() string {
	return "cargos"
}

// Article is one packing-list line item.
type Article struct {
	ID            int64    `gorm:"column:id;primaryKey;autoIncrement"`
	CargoID       int64    `gorm:"column:cargo_id;not null;index"`
	Reference     string   `gorm:"column:reference;size:190;not null;default:''"`
	DescriptionES string   `gorm:"column:description_es;size:512;not null;default:''"`
	DescriptionZH string   `gorm:"column:description_zh;size:512;not null;default:''"`
	BoxCount      int      `gorm:"column:box_count;not null"`
	UnitsPerBox   int      `gorm:"column:units_per_box;not null;default:0"`
	GrossWeight   *float64 `gorm:"column:gross_weight"`
	CBM           *float64 `gorm:"column:cbm"`
	ImageURL      string   `gorm:"column:image_url;size:1024;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Article) TableName() string {
	return "articles"
}

// Box is one physical box of an article. Optional fields override the article values.
type Box struct {
	ID          int64    `gorm:"column:id;primaryKey;autoIncrement"`
	ArticleID   int64    `gorm:"column:article_id;not null;index"`
	Number      int      `gorm:"column:number;not null"`
	Total       int      `gorm:"column:total;not null"`
	Description *string  `gorm:"column:description;size:512"`
	Reference   *string  `gorm:"column:reference;size:190"`
	GrossWeight *float64 `gorm:"column:gross_weight"`
	CBM         *float64 `gorm:"column:cbm"`
	Units       int      `gorm:"column:units;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Box) TableName() string {
	return "boxes"
}

// BoxContext bundles a box with the article and cargo that own it.
type BoxContext struct {
	Box     Box
	Article Article
	Cargo   Cargo
}

// ArticleDetail is an article with its boxes.
type ArticleDetail struct {
	Article Article
	Boxes   []Box
}

// CargoDetail is a cargo with its articles and boxes.
type CargoDetail struct {
	Cargo    Cargo
	Articles []ArticleDetail
}

// BoxCount returns the number of boxes across all articles.
func (d CargoDetail) BoxCount() int {
	total := 0
	for _, article := range d.Articles {
		total += len(article.Boxes)
	}
	return total
}

// Summary is a cargo row with its article and box counts, used in listings.
type Summary struct {
	Cargo    Cargo
	Articles int64
	Boxes    int64
}

// ArticleInput describes one packing-list row supplied on cargo creation.
type ArticleInput struct {
	Reference     string
	DescriptionES string
	DescriptionZH string
	BoxCount      int
	UnitsPerBox   int
	GrossWeight   *float64
	CBM           *float64
	ImageURL      string
}

// CreateRequest describes a new cargo. An empty Code is generated.
type CreateRequest struct {
	Code               string
	OwnerUserID        int64
	ClientName         string
	ClientEmail        string
	ClientPhone        string
	ShippingMark       string
	DestinationCity    string
	DestinationAddress string
	Articles           []ArticleInput
}
